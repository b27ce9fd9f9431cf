package orchestrator

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"

	"sbsrf-update/internal/asset"
	"sbsrf-update/internal/device"
	apperrors "sbsrf-update/internal/errors"
	"sbsrf-update/internal/history"
	"sbsrf-update/internal/progress"
)

const flowUpdate = "update"

// UpdateOptions adjusts an update.
type UpdateOptions struct {
	// Force reinstalls even when the device already has the latest version.
	Force bool
}

// UpdateResult describes a finished update.
type UpdateResult struct {
	State  State
	From   string
	To     string
	Backup string
	Batch  *BatchResult
}

// Update brings dev to the latest release. Asset failures are reported in
// the result's batch and do not fail the update; a failed release fetch,
// backup or record write does, and leaves the recorded version unchanged.
func (u *Updater) Update(ctx context.Context, dev device.Device, opts UpdateOptions) (*UpdateResult, error) {
	cfg := dev.Config()
	result := &UpdateResult{State: StateIdle, From: cfg.Version}
	run := history.NewRun(dev.Name(), history.KindUpdate, cfg.Version)

	rel, err := u.fetcher.FetchLatest(ctx)
	if err != nil {
		err = apperrors.New(apperrors.CodeNetworkFailure, fmt.Sprintf("fetch latest release: %v", err), err)
		u.record(ctx, run, history.OutcomeFailed, err)
		return result, err
	}
	result.To = rel.Version
	run.To = rel.Version
	transition(dev, flowUpdate, StateFetchedRelease)

	upToDate := rel.Version == cfg.Version
	if upToDate && !opts.Force {
		result.State = StateUpToDate
		transition(dev, flowUpdate, StateUpToDate)
		u.reporter.UpToDate(dev.Name(), rel.Version)
		u.record(ctx, run, history.OutcomeUpToDate, nil)
		return result, nil
	}
	transition(dev, flowUpdate, StateNeedsUpdate)

	title := fmt.Sprintf("Update %s to %s?", dev.Name(), rel.Version)
	if upToDate {
		title = fmt.Sprintf("%s already has %s. Install it again?", dev.Name(), rel.Version)
	} else {
		u.reporter.NewRelease(dev.Name(), rel)
	}
	ok, err := u.confirmRemote(dev)
	if err == nil && ok {
		ok, err = u.prompter.Confirm(title, true)
	}
	if err != nil || !ok {
		result.State = StateDeclined
		transition(dev, flowUpdate, StateDeclined)
		u.record(ctx, run, history.OutcomeAborted, err)
		return result, err
	}
	transition(dev, flowUpdate, StateConfirmed)

	stopped, err := u.quiesce(ctx, dev, flowUpdate)
	if err != nil {
		u.record(ctx, run, history.OutcomeFailed, err)
		return result, err
	}

	transition(dev, flowUpdate, StateBackingUp)
	if dev.Backups().Enabled() {
		task := u.sink.Start("Back up "+cfg.Version, progress.Items)
		result.Backup, err = dev.Backup(ctx, task)
		task.Done(err)
		if err != nil {
			u.resume(ctx, dev, flowUpdate, stopped)
			u.record(ctx, run, outcomeOf(err), err)
			return result, err
		}
	}

	assets := asset.Filter(rel.Assets, string(cfg.Variant()), cfg.Sentence)
	if len(assets) == 0 {
		log.Warnf("release %s has no assets for %s", rel.Version, cfg.Name)
	}
	transition(dev, flowUpdate, StateInstalling)
	result.Batch = u.installAll(ctx, dev, assets, rel.Version)

	u.resume(ctx, dev, flowUpdate, stopped)
	u.deploy(ctx, dev, flowUpdate)

	if err := u.persist(dev, rel.Version, flowUpdate); err != nil {
		u.record(ctx, run, history.OutcomeFailed, err)
		return result, err
	}
	result.State = StatePersisted

	if batchErr := result.Batch.Err(); batchErr != nil {
		u.record(ctx, run, history.OutcomePartial, batchErr)
	} else {
		u.record(ctx, run, history.OutcomeSucceeded, nil)
	}
	return result, nil
}
