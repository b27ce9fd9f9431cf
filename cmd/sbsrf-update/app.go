package main

import (
	"context"

	log "github.com/sirupsen/logrus"

	"sbsrf-update/internal/config"
	"sbsrf-update/internal/device"
	"sbsrf-update/internal/download"
	apperrors "sbsrf-update/internal/errors"
	"sbsrf-update/internal/history"
	"sbsrf-update/internal/orchestrator"
	"sbsrf-update/internal/process"
	"sbsrf-update/internal/progress"
	"sbsrf-update/internal/prompt"
	"sbsrf-update/internal/release"
	"sbsrf-update/internal/transport"
)

// recentRuns is how many journal entries `device show` prints.
const recentRuns = 5

// app holds the components shared by every command.
type app struct {
	settings config.Settings
	env      env
	history  *history.Store
	cache    *download.Cache
	registry *device.Registry
	prompter prompt.Prompter
}

func newApp(ctx context.Context, settings config.Settings, e env) (*app, error) {
	a := &app{
		settings: settings,
		env:      e,
		prompter: prompt.New(settings.AssumeYes),
	}
	if e.prompter != nil && !settings.AssumeYes {
		a.prompter = e.prompter
	}

	// The journal is a convenience; an unreadable database must not block updates.
	store, err := history.Open(ctx, settings.HistoryPath())
	if err != nil {
		log.Warnf("run history unavailable: %v", err)
	} else {
		a.history = store
	}

	downloadOpts := []download.Option{download.WithRetries(settings.DownloadRetries)}
	if e.httpClient != nil {
		downloadOpts = append(downloadOpts, download.WithHTTPClient(e.httpClient))
	}
	client := download.New(downloadOpts...)
	if a.history != nil {
		a.cache = download.NewCache(settings.CacheDir(), client, a.history)
	} else {
		a.cache = download.NewCache(settings.CacheDir(), client, nil)
	}

	remoteOpts := []transport.RemoteOption{transport.WithDownloader(client)}
	if e.httpClient != nil {
		remoteOpts = append(remoteOpts, transport.WithHTTPClient(e.httpClient))
	}
	regOpts := []device.RegistryOption{
		device.WithCache(a.cache),
		device.WithRemoteOptions(remoteOpts...),
	}
	if e.runner != nil {
		regOpts = append(regOpts, device.WithRunner(e.runner))
	}
	regOpts = append(regOpts, e.registry...)
	a.registry = device.NewRegistry(settings.WorkDir, regOpts...)
	return a, nil
}

func (a *app) close() {
	if a.history != nil {
		if err := a.history.Close(); err != nil {
			log.Debugf("close history: %v", err)
		}
		a.history = nil
	}
}

// openDevice loads the named record (the default device when name is empty)
// and builds its Device.
func (a *app) openDevice(name, host string) (device.Device, error) {
	name = a.registry.Resolve(name)
	cfg, err := a.registry.Load(name)
	if err != nil {
		return nil, err
	}
	return a.registry.Open(name, cfg, host)
}

func (a *app) fetcher() (release.Fetcher, error) {
	repo := a.settings.GiteeRepo
	if a.settings.ReleaseSource == config.SourceGithub {
		repo = a.settings.GithubRepo
	}
	opts := []release.Option{
		release.WithRepo(repo),
		release.WithUserAgent("sbsrf-update/" + Version),
		release.WithTimeout(a.settings.ReleaseTimeout),
	}
	if a.env.httpClient != nil {
		opts = append(opts, release.WithHTTPClient(a.env.httpClient))
	}
	f, err := release.NewFetcher(a.settings.ReleaseSource, opts...)
	if err != nil {
		return nil, configError(err)
	}
	return f, nil
}

// updater builds the orchestrator for one command. The returned sink must be
// closed once the command is done.
func (a *app) updater() (*orchestrator.Updater, progress.Sink, error) {
	fetcher, err := a.fetcher()
	if err != nil {
		return nil, nil, err
	}

	var sink progress.Sink
	if a.env.interactive {
		out := a.env.stdout
		sink = progress.NewDeferred(func() progress.Sink { return progress.NewDisplay(out) })
	} else {
		sink = progress.NewLines(a.env.stdout)
	}

	opts := []orchestrator.Option{
		orchestrator.WithReporter(newReporter(a.env.stdout, a.env.interactive)),
		orchestrator.WithProgress(sink),
		orchestrator.WithConcurrency(a.settings.Concurrency),
		orchestrator.WithTaskTimeout(a.settings.TaskTimeout),
		orchestrator.WithWaitOptions(process.WaitOptions{
			Poll:    a.settings.PollInterval,
			Timeout: a.settings.WaitTimeout,
		}),
	}
	if a.history != nil {
		opts = append(opts, orchestrator.WithJournal(a.history))
	}
	return orchestrator.New(fetcher, a.prompter, a.registry, opts...), sink, nil
}

func configError(err error) error {
	return apperrors.New(apperrors.CodeConfigurationError, err.Error(), err)
}
