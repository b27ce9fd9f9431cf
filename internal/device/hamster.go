package device

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	log "github.com/sirupsen/logrus"

	"sbsrf-update/internal/archive"
	apperrors "sbsrf-update/internal/errors"
	"sbsrf-update/internal/progress"
	"sbsrf-update/internal/release"
	"sbsrf-update/internal/transport"
)

// Hamster is the iOS engine, reachable only through its Wi-Fi upload server.
// Its snapshots are the zip the phone serves, kept as backups/<version>/Rime.zip.
type Hamster struct {
	base
	remote   *transport.Remote
	tempRoot string
}

// Host returns the phone address used for this session.
func (h *Hamster) Host() string {
	return h.remote.Host()
}

// Install implements Device.
func (h *Hamster) Install(ctx context.Context, asset release.Asset, version string, task progress.Task) error {
	return h.remote.Install(ctx, asset, version, task)
}

// Backup implements Device.
func (h *Hamster) Backup(ctx context.Context, task progress.Task) (string, error) {
	return h.store.SnapshotWith(ctx, h.cfg.Version, func(ctx context.Context, staging string) error {
		return h.remote.DownloadSnapshot(ctx, filepath.Join(staging, ArchiveName), task)
	})
}

// Restore unpacks the stored archive into a scratch directory and uploads
// its Rime/ subtree. The phone API cannot delete, so stale remote files stay.
func (h *Hamster) Restore(ctx context.Context, version string, task progress.Task) error {
	src, err := h.store.RestoreSource(version, ArchiveName)
	if err != nil {
		return err
	}

	scratch, err := os.MkdirTemp(h.tempRoot, "sbsrf-restore-*")
	if err != nil {
		return apperrors.New(apperrors.CodeFilesystemFailure, "create scratch directory", err)
	}
	defer func() {
		if err := os.RemoveAll(scratch); err != nil {
			log.Warnf("failed to remove %s: %v", scratch, err)
		}
	}()

	if err := archive.Extract(ctx, src, scratch, nil); err != nil {
		return apperrors.New(apperrors.CodeFilesystemFailure, fmt.Sprintf("unpack %s", src), err)
	}

	root := filepath.Join(scratch, h.remote.Namespace())
	if info, err := os.Stat(root); err != nil || !info.IsDir() {
		root = scratch
	}
	return h.remote.Push(ctx, root, task)
}

// Deploy is a no-op: the phone has to redeploy by itself.
func (h *Hamster) Deploy(context.Context) error {
	log.Infof("%s cannot be redeployed remotely", h.name)
	return nil
}

// DeployNotice implements ManualDeployer.
func (h *Hamster) DeployNotice() string {
	return "Files are on the phone. Open Hamster and run \"Redeploy\" to load them."
}
