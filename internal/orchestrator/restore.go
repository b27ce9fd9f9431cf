package orchestrator

import (
	"context"
	"fmt"
	"slices"

	"sbsrf-update/internal/device"
	apperrors "sbsrf-update/internal/errors"
	"sbsrf-update/internal/history"
	"sbsrf-update/internal/progress"
)

const flowRestore = "restore"

// RestoreOptions adjusts a restore.
type RestoreOptions struct {
	// Version selects the snapshot. Empty asks the user, defaulting to the latest.
	Version string
}

// RestoreResult describes a finished restore.
type RestoreResult struct {
	State   State
	From    string
	Version string
}

// Restore replaces the live configuration of dev with one of its snapshots.
// Nothing is touched before the user confirms, and the recorded version only
// changes once the snapshot has been copied in full.
func (u *Updater) Restore(ctx context.Context, dev device.Device, opts RestoreOptions) (*RestoreResult, error) {
	cfg := dev.Config()
	result := &RestoreResult{State: StateIdle, From: cfg.Version}
	run := history.NewRun(dev.Name(), history.KindRestore, cfg.Version)

	versions, err := dev.Backups().List()
	if err != nil {
		u.record(ctx, run, history.OutcomeFailed, err)
		return result, err
	}
	if len(versions) == 0 {
		err := apperrors.New(apperrors.CodeNoBackupsAvailable,
			fmt.Sprintf("%s has no backups to restore", dev.Name()), nil)
		u.record(ctx, run, history.OutcomeFailed, err)
		return result, err
	}
	transition(dev, flowRestore, StateListed)

	version := opts.Version
	if version == "" {
		idx, err := u.prompter.Select("Select the version to restore", versions, len(versions)-1)
		if err != nil {
			result.State = StateDeclined
			u.record(ctx, run, outcomeOf(err), err)
			return result, err
		}
		version = versions[idx]
	} else if !slices.Contains(versions, version) {
		err := apperrors.New(apperrors.CodeNoBackupsAvailable,
			fmt.Sprintf("%s has no backup named %s", dev.Name(), version), nil)
		u.record(ctx, run, history.OutcomeFailed, err)
		return result, err
	}
	result.Version = version
	run.To = version
	transition(dev, flowRestore, StateSelected)

	ok, err := u.confirmRemote(dev)
	if err == nil && ok {
		ok, err = u.prompter.Confirm(
			fmt.Sprintf("Restore %s to %s? Its current files will be replaced.", dev.Name(), version), false)
	}
	if err != nil || !ok {
		result.State = StateDeclined
		transition(dev, flowRestore, StateDeclined)
		u.record(ctx, run, history.OutcomeAborted, err)
		return result, err
	}
	transition(dev, flowRestore, StateConfirmed)

	stopped, err := u.quiesce(ctx, dev, flowRestore)
	if err != nil {
		u.record(ctx, run, history.OutcomeFailed, err)
		return result, err
	}

	transition(dev, flowRestore, StateWiped)
	task := u.sink.Start("Restore "+version, progress.Items)
	err = dev.Restore(ctx, version, task)
	task.Done(err)
	if err != nil {
		u.resume(ctx, dev, flowRestore, stopped)
		u.record(ctx, run, history.OutcomeFailed, err)
		return result, err
	}
	transition(dev, flowRestore, StateRestored)

	u.resume(ctx, dev, flowRestore, stopped)
	u.deploy(ctx, dev, flowRestore)

	if err := u.persist(dev, version, flowRestore); err != nil {
		u.record(ctx, run, history.OutcomeFailed, err)
		return result, err
	}
	result.State = StatePersisted
	u.record(ctx, run, history.OutcomeSucceeded, nil)
	return result, nil
}
