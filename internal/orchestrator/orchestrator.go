// Package orchestrator runs the update and restore flows against any Device.
//
// Update: fetch the release, compare versions, confirm, back up the current
// live state, install every matching asset concurrently, deploy, and persist
// the new version. Restore: pick a snapshot, confirm, quiesce the engine,
// replace the live state, resume, deploy, and persist the snapshot's version.
package orchestrator

import (
	"context"
	"fmt"
	"io"
	"time"

	log "github.com/sirupsen/logrus"

	"sbsrf-update/internal/device"
	apperrors "sbsrf-update/internal/errors"
	"sbsrf-update/internal/history"
	"sbsrf-update/internal/process"
	"sbsrf-update/internal/progress"
	"sbsrf-update/internal/prompt"
	"sbsrf-update/internal/release"
)

// DefaultConcurrency bounds the number of assets installed at once.
const DefaultConcurrency = 4

// State is a step of a flow, used for logging and as the final result.
type State string

const (
	StateIdle           State = "idle"
	StateFetchedRelease State = "fetched_release"
	StateUpToDate       State = "up_to_date"
	StateNeedsUpdate    State = "needs_update"
	StateDeclined       State = "declined"
	StateConfirmed      State = "confirmed"
	StateQuiesced       State = "quiesced"
	StateBackingUp      State = "backing_up"
	StateInstalling     State = "installing"
	StateWiped          State = "wiped"
	StateRestored       State = "restored"
	StateResumed        State = "resumed"
	StateDeploying      State = "deploying"
	StatePersisted      State = "persisted"
	StateListed         State = "listed"
	StateSelected       State = "selected"
)

// Recorder persists device records.
type Recorder interface {
	Save(name string, cfg *device.Config) error
}

// Journal records finished runs.
type Journal interface {
	RecordRun(ctx context.Context, run history.Run) error
}

// Reporter shows flow milestones to the user.
type Reporter interface {
	UpToDate(device, version string)
	NewRelease(device string, rel *release.Release)
	Notice(msg string)
}

// Updater drives the flows.
type Updater struct {
	fetcher     release.Fetcher
	prompter    prompt.Prompter
	records     Recorder
	journal     Journal
	reporter    Reporter
	sink        progress.Sink
	concurrency int
	taskTimeout time.Duration
	wait        process.WaitOptions
}

// Option configures an Updater.
type Option func(*Updater)

// WithJournal records every run.
func WithJournal(j Journal) Option {
	return func(u *Updater) {
		u.journal = j
	}
}

// WithReporter sets where milestones are shown.
func WithReporter(r Reporter) Option {
	return func(u *Updater) {
		u.reporter = r
	}
}

// WithProgress sets the progress sink.
func WithProgress(s progress.Sink) Option {
	return func(u *Updater) {
		u.sink = s
	}
}

// WithConcurrency bounds parallel asset installs. Values below one mean one.
func WithConcurrency(n int) Option {
	return func(u *Updater) {
		u.concurrency = n
	}
}

// WithTaskTimeout bounds each asset install. Zero disables the limit.
func WithTaskTimeout(d time.Duration) Option {
	return func(u *Updater) {
		u.taskTimeout = d
	}
}

// WithWaitOptions sets how long to wait for the engine process to stop or start.
func WithWaitOptions(w process.WaitOptions) Option {
	return func(u *Updater) {
		u.wait = w
	}
}

// New creates an Updater.
func New(fetcher release.Fetcher, prompter prompt.Prompter, records Recorder, opts ...Option) *Updater {
	u := &Updater{
		fetcher:     fetcher,
		prompter:    prompter,
		records:     records,
		reporter:    NewTextReporter(io.Discard),
		sink:        progress.Nop{},
		concurrency: DefaultConcurrency,
	}
	for _, opt := range opts {
		opt(u)
	}
	if u.concurrency < 1 {
		u.concurrency = 1
	}
	return u
}

func transition(dev device.Device, flow string, state State) {
	log.WithFields(log.Fields{
		"device": dev.Name(),
		"flow":   flow,
		"state":  state,
	}).Debug("state changed")
}

func (u *Updater) record(ctx context.Context, run history.Run, outcome string, detail error) {
	if u.journal == nil {
		return
	}
	run.Outcome = outcome
	run.FinishedAt = time.Now().UTC()
	if detail != nil {
		run.Detail = detail.Error()
	}
	if err := u.journal.RecordRun(context.WithoutCancel(ctx), run); err != nil {
		log.Warnf("failed to record %s run for %s: %v", run.Kind, run.Device, err)
	}
}

// confirmRemote makes sure the phone can be reached before touching it.
func (u *Updater) confirmRemote(dev device.Device) (bool, error) {
	if !dev.Config().Variant().Remote() {
		return true, nil
	}
	return u.prompter.Confirm(
		"Is the phone on the same network as this computer, with Wi-Fi upload turned on?", true)
}

// quiesce stops the engine when it guards the live directory. An unconfirmed
// stop is returned as an error and the caller must not touch the live files.
// The engine was still asked to quit in that case, so it is brought back once
// it is seen gone or a second wait expires.
func (u *Updater) quiesce(ctx context.Context, dev device.Device, flow string) (bool, error) {
	stopped, err := process.Quiesce(ctx, dev.Guard(), u.wait)
	if err != nil {
		if stopped {
			if werr := process.WaitFor(context.WithoutCancel(ctx), dev.Guard(), false, u.wait); werr != nil {
				log.Debugf("%s: %v", dev.Name(), werr)
			}
			u.resume(ctx, dev, flow, true)
		}
		return stopped, err
	}
	if stopped {
		transition(dev, flow, StateQuiesced)
	}
	return stopped, nil
}

// resume restarts an engine stopped by quiesce. Failures are logged only.
func (u *Updater) resume(ctx context.Context, dev device.Device, flow string, stopped bool) {
	if !stopped {
		return
	}
	if err := process.Resume(context.WithoutCancel(ctx), dev.Guard(), u.wait); err != nil {
		log.Warnf("%s: %v", dev.Name(), err)
		u.reporter.Notice(fmt.Sprintf("Could not confirm the engine restarted: %v", err))
		return
	}
	transition(dev, flow, StateResumed)
}

// deploy asks the engine to reload. Failures are logged only.
func (u *Updater) deploy(ctx context.Context, dev device.Device, flow string) {
	transition(dev, flow, StateDeploying)
	if err := dev.Deploy(ctx); err != nil {
		log.Warnf("deploy %s failed: %v", dev.Name(), err)
		u.reporter.Notice(fmt.Sprintf("Reload failed, redeploy the engine by hand: %v", err))
	}
	if m, ok := dev.(device.ManualDeployer); ok {
		u.reporter.Notice(m.DeployNotice())
	}
}

func (u *Updater) persist(dev device.Device, version, flow string) error {
	cfg := dev.Config()
	previous := cfg.Version
	cfg.Version = version
	if err := u.records.Save(dev.Name(), cfg); err != nil {
		cfg.Version = previous
		return err
	}
	transition(dev, flow, StatePersisted)
	return nil
}

func outcomeOf(err error) string {
	if apperrors.IsCode(err, apperrors.CodeAborted) {
		return history.OutcomeAborted
	}
	return history.OutcomeFailed
}
