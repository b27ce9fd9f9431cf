package device

import (
	"context"
	"fmt"
	"path/filepath"

	log "github.com/sirupsen/logrus"

	apperrors "sbsrf-update/internal/errors"
	"sbsrf-update/internal/process"
	"sbsrf-update/internal/progress"
	"sbsrf-update/internal/release"
	"sbsrf-update/internal/transport"
)

// weaselServerImage is the Windows process that holds the Rime user directory open.
const weaselServerImage = "WeaselServer.exe"

// local is a device whose live directory is on this machine.
type local struct {
	base
	transport *transport.Local
}

func (l *local) Install(ctx context.Context, asset release.Asset, version string, task progress.Task) error {
	return l.transport.Install(ctx, asset, version, task)
}

func (l *local) Backup(ctx context.Context, task progress.Task) (string, error) {
	return l.store.Snapshot(ctx, l.cfg.LiveDir, l.cfg.Version, fileTicker(task))
}

func (l *local) Restore(ctx context.Context, version string, task progress.Task) error {
	src, err := l.store.RestoreSource(version, "")
	if err != nil {
		return err
	}
	if err := l.transport.Push(ctx, src, task); err != nil {
		return apperrors.New(apperrors.CodeFilesystemFailure,
			fmt.Sprintf("restore %s into %s: %v", version, l.cfg.LiveDir, err), err)
	}
	return nil
}

// Squirrel is the macOS engine. It reloads when its executable is run with --reload.
type Squirrel struct {
	local
	runner process.Runner
}

// Deploy implements Device.
func (s *Squirrel) Deploy(ctx context.Context) error {
	if s.cfg.Exe == "" {
		log.Warnf("%s has no executable configured, skipping deploy", s.name)
		return nil
	}
	if out, err := s.runner.Run(ctx, s.cfg.Exe, "--reload"); err != nil {
		return apperrors.New(apperrors.CodeProcessControlFailure,
			fmt.Sprintf("reload %s: %s", s.cfg.Name, out), err)
	}
	return nil
}

// Weasel is the Windows engine. Its server locks the user directory, so
// every write goes through Guard.
type Weasel struct {
	local
	runner process.Runner
	guard  *process.TasklistGuard
}

// Guard implements Device.
func (w *Weasel) Guard() process.Guard {
	return w.guard
}

// Deploy runs WeaselDeployer.exe from the server's directory.
func (w *Weasel) Deploy(context.Context) error {
	if w.cfg.Exe == "" {
		log.Warnf("%s has no executable configured, skipping deploy", w.name)
		return nil
	}
	deployer := filepath.Join(filepath.Dir(w.cfg.Exe), "WeaselDeployer.exe")
	if err := w.runner.Spawn(deployer); err != nil {
		return apperrors.New(apperrors.CodeProcessControlFailure, "run WeaselDeployer", err)
	}
	return nil
}

// Fcitx5 is the Linux engine (also packaged for macOS). It is reloaded over D-Bus.
type Fcitx5 struct {
	local
	reload Reloader
}

// Deploy implements Device.
func (f *Fcitx5) Deploy(ctx context.Context) error {
	if err := f.reload(ctx); err != nil {
		return apperrors.New(apperrors.CodeProcessControlFailure, "reload fcitx5 rime addon", err)
	}
	return nil
}
