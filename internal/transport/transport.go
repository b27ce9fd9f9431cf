// Package transport moves release assets and backup trees into an engine's
// live configuration, either on the local filesystem or over HTTP to a phone.
package transport

import (
	"context"

	"sbsrf-update/internal/progress"
	"sbsrf-update/internal/release"
)

// Transport installs into one live location.
type Transport interface {
	// Install fetches one release asset and unpacks it into the live location.
	Install(ctx context.Context, asset release.Asset, version string, task progress.Task) error
	// Push replaces the live contents with the tree rooted at src.
	Push(ctx context.Context, src string, task progress.Task) error
}

func byteProgress(task progress.Task) func(written, total int64) {
	return func(written, total int64) {
		task.SetTotal(total)
		task.Set(written)
	}
}
