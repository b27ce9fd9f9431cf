package orchestrator

import (
	"context"
	"fmt"

	"github.com/hashicorp/go-multierror"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"sbsrf-update/internal/device"
	"sbsrf-update/internal/progress"
	"sbsrf-update/internal/release"
)

// AssetResult is the outcome of one install task.
type AssetResult struct {
	Asset release.Asset
	Err   error
}

// BatchResult holds one outcome per asset, in release order.
type BatchResult struct {
	Results []AssetResult
}

// Succeeded counts the assets that installed.
func (b *BatchResult) Succeeded() int {
	n := 0
	for _, r := range b.Results {
		if r.Err == nil {
			n++
		}
	}
	return n
}

// Failed returns the assets that did not install.
func (b *BatchResult) Failed() []AssetResult {
	var out []AssetResult
	for _, r := range b.Results {
		if r.Err != nil {
			out = append(out, r)
		}
	}
	return out
}

// Err joins every asset failure, or returns nil.
func (b *BatchResult) Err() error {
	var result *multierror.Error
	for _, r := range b.Failed() {
		result = multierror.Append(result, fmt.Errorf("%s: %w", r.Asset.Name, r.Err))
	}
	return result.ErrorOrNil()
}

// installAll runs one task per asset. A failing task never cancels the
// others; every outcome is collected.
func (u *Updater) installAll(ctx context.Context, dev device.Device, assets []release.Asset, version string) *BatchResult {
	batch := &BatchResult{Results: make([]AssetResult, len(assets))}

	var g errgroup.Group
	g.SetLimit(u.concurrency)
	for i, a := range assets {
		g.Go(func() error {
			taskCtx, cancel := ctx, context.CancelFunc(func() {})
			if u.taskTimeout > 0 {
				taskCtx, cancel = context.WithTimeout(ctx, u.taskTimeout)
			}
			defer cancel()

			task := u.sink.Start(a.Name, progress.Bytes)
			err := dev.Install(taskCtx, a, version, task)
			task.Done(err)
			if err != nil {
				log.Warnf("install of %s on %s failed: %v", a.Name, dev.Name(), err)
			}
			batch.Results[i] = AssetResult{Asset: a, Err: err}
			return nil
		})
	}
	_ = g.Wait()
	return batch
}
