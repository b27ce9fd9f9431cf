package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

// Settings is the resolved, read-only configuration handed to every component
// constructor. It is produced once by Resolve at process start.
type Settings struct {
	WorkDir   string
	AssumeYes bool

	ReleaseSource string
	GithubRepo    string
	GiteeRepo     string
	// ReleaseTimeout bounds the release query. Zero means no limit.
	ReleaseTimeout time.Duration

	Concurrency     int
	TaskTimeout     time.Duration
	DownloadRetries int

	PollInterval time.Duration
	WaitTimeout  time.Duration

	LogLevel string
}

// Resolve snapshots the current configuration into Settings, normalizing
// out-of-range values.
func Resolve() (Settings, error) {
	if err := Initialize(); err != nil {
		return Settings{}, err
	}

	s := Settings{
		WorkDir:         strings.TrimSpace(GetString(KeyWorkDir)),
		AssumeYes:       GetBool(KeyAssumeYes),
		ReleaseSource:   strings.ToLower(strings.TrimSpace(GetString(KeyReleaseSource))),
		GithubRepo:      strings.TrimSpace(GetString(KeyReleaseGithubRepo)),
		GiteeRepo:       strings.TrimSpace(GetString(KeyReleaseGiteeRepo)),
		ReleaseTimeout:  GetDuration(KeyReleaseTimeout),
		Concurrency:     GetInt(KeyInstallConcurrency),
		TaskTimeout:     GetDuration(KeyInstallTaskTimeout),
		DownloadRetries: GetInt(KeyDownloadRetries),
		PollInterval:    GetDuration(KeyProcessPollInterval),
		WaitTimeout:     GetDuration(KeyProcessWaitTimeout),
		LogLevel:        strings.TrimSpace(GetString(KeyLogLevel)),
	}

	if s.WorkDir == "" {
		return Settings{}, fmt.Errorf("work dir is not configured")
	}
	switch s.ReleaseSource {
	case SourceGitee, SourceGithub:
	default:
		return Settings{}, fmt.Errorf("unknown release source %q (want %s or %s)", s.ReleaseSource, SourceGitee, SourceGithub)
	}
	if s.Concurrency < 1 {
		s.Concurrency = 1
	}
	if s.ReleaseTimeout < 0 {
		s.ReleaseTimeout = 0
	}
	if s.TaskTimeout < 0 {
		s.TaskTimeout = 0
	}
	if s.DownloadRetries < 0 {
		s.DownloadRetries = 0
	}
	if s.PollInterval <= 0 {
		s.PollInterval = DefaultPollInterval
	}
	if s.WaitTimeout <= 0 {
		s.WaitTimeout = DefaultWaitTimeout
	}
	if s.LogLevel == "" {
		s.LogLevel = "info"
	}
	return s, nil
}

// CacheDir is the shared download cache used by local engines.
func (s Settings) CacheDir() string {
	return filepath.Join(s.WorkDir, "_cache")
}

// LogDir holds the rotated debug log.
func (s Settings) LogDir() string {
	return filepath.Join(s.WorkDir, "_logs")
}

// HistoryPath is the sqlite journal of runs and cached downloads.
func (s Settings) HistoryPath() string {
	return filepath.Join(s.WorkDir, "_history.db")
}

// SettingsPath is the optional user settings file.
func (s Settings) SettingsPath() string {
	return filepath.Join(s.WorkDir, SettingsFileName)
}
