// Package device models the installation targets an update can be applied
// to. Each target has a durable record (Config) and a Device implementation
// chosen by its variant; the orchestrator only ever talks to the Device
// interface.
package device

import (
	"context"

	"sbsrf-update/internal/backup"
	"sbsrf-update/internal/fsutil"
	"sbsrf-update/internal/process"
	"sbsrf-update/internal/progress"
	"sbsrf-update/internal/release"
)

// Variant names an engine. It is stored as the record's name and, lower-cased,
// is the prefix of the engine-specific release assets.
type Variant string

const (
	VariantSquirrel Variant = "Squirrel"
	VariantWeasel   Variant = "Weasel"
	VariantFcitx5   Variant = "Fcitx5"
	VariantHamster  Variant = "Hamster"
)

// Remote reports whether the variant is reached over the network.
func (v Variant) Remote() bool {
	return v == VariantHamster
}

const (
	// DefaultVersion is recorded for devices that were never updated.
	DefaultVersion = "20051203"
	// DefaultMaxBackups keeps only the snapshot taken before the last update.
	DefaultMaxBackups = 1
	// ConfigFileName is the record file inside a device directory.
	ConfigFileName = "config.toml"
	// ArchiveName is the snapshot file kept for remote devices.
	ArchiveName = "Rime.zip"
)

// Config is the durable record of one device.
type Config struct {
	Name       string
	Exe        string
	LiveDir    string
	WorkDir    string
	MaxBackups int
	Sentence   bool
	Version    string
}

// Variant returns the engine variant of the record.
func (c *Config) Variant() Variant {
	return Variant(c.Name)
}

// Device is one installation target.
type Device interface {
	// Name is the registry key of the device.
	Name() string
	Config() *Config
	Backups() *backup.Store
	// Guard returns the process that locks the live directory, or nil.
	Guard() process.Guard

	// Install puts one release asset into the live configuration.
	Install(ctx context.Context, asset release.Asset, version string, task progress.Task) error
	// Backup snapshots the live configuration under the recorded version.
	Backup(ctx context.Context, task progress.Task) (string, error)
	// Restore replaces the live configuration with the named snapshot.
	Restore(ctx context.Context, version string, task progress.Task) error
	// Deploy asks the running engine to reload.
	Deploy(ctx context.Context) error
}

// ManualDeployer is implemented by devices whose engine cannot be reloaded
// from here; the notice tells the user what to do instead.
type ManualDeployer interface {
	DeployNotice() string
}

type base struct {
	name  string
	cfg   *Config
	store *backup.Store
}

func newBase(name string, cfg *Config) base {
	return base{
		name:  name,
		cfg:   cfg,
		store: backup.New(backupRoot(cfg.WorkDir), cfg.MaxBackups),
	}
}

func (b *base) Name() string           { return b.name }
func (b *base) Config() *Config        { return b.cfg }
func (b *base) Backups() *backup.Store { return b.store }
func (b *base) Guard() process.Guard   { return nil }

func fileTicker(task progress.Task) fsutil.FileFunc {
	return func(path string) {
		task.Increment()
		task.Message(path)
	}
}
