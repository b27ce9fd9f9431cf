package config

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/spf13/viper"
)

const (
	KeyWorkDir   = "work-dir"
	KeyAssumeYes = "assume-yes"

	KeyReleaseSource     = "release.source"
	KeyReleaseGithubRepo = "release.github-repo"
	KeyReleaseGiteeRepo  = "release.gitee-repo"
	KeyReleaseTimeout    = "release.timeout"

	KeyInstallConcurrency = "install.concurrency"
	KeyInstallTaskTimeout = "install.task-timeout"
	KeyDownloadRetries    = "download.retries"

	KeyProcessPollInterval = "process.poll-interval"
	KeyProcessWaitTimeout  = "process.wait-timeout"

	KeyLogLevel = "log.level"
)

const (
	// DefaultWorkDirName is created under the user's home when no work dir is configured.
	DefaultWorkDirName = ".sbsrf-update"
	// SettingsFileName lives directly under the work dir. The leading underscore
	// keeps it out of the device listing.
	SettingsFileName = "_settings.toml"

	DefaultReleaseTimeout = 15 * time.Second
	DefaultConcurrency    = 4
	DefaultTaskTimeout    = 10 * time.Minute
	DefaultRetries        = 2
	DefaultPollInterval   = 500 * time.Millisecond
	DefaultWaitTimeout    = 30 * time.Second

	envPrefix = "SBSRF"
)

// Release sources understood by the release package.
const (
	SourceGitee  = "gitee"
	SourceGithub = "github"
)

type initSettings struct {
	workDir      string
	settingsPath string
}

// Option configures Initialize behaviour. Useful for tests to override paths.
type Option func(*initSettings)

// WithWorkDir pins the work dir instead of reading it from the environment.
func WithWorkDir(dir string) Option {
	return func(cfg *initSettings) {
		cfg.workDir = dir
	}
}

// WithSettingsFile explicitly sets the settings file path instead of <work-dir>/_settings.toml.
func WithSettingsFile(path string) Option {
	return func(cfg *initSettings) {
		cfg.settingsPath = path
	}
}

var (
	configOnce sync.Once
	configMu   sync.RWMutex
	configInst *viper.Viper
	initErr    error
)

// Initialize loads configuration using the precedence:
// defaults < settings file < environment variables < overrides.
func Initialize(opts ...Option) error {
	configOnce.Do(func() {
		settings := initSettings{}
		for _, opt := range opts {
			opt(&settings)
		}
		initErr = configure(&settings)
	})
	return initErr
}

// ApplyOverrides injects values typically coming from CLI flags.
func ApplyOverrides(overrides map[string]any) error {
	if len(overrides) == 0 {
		return nil
	}
	if err := Initialize(); err != nil {
		return err
	}
	configMu.Lock()
	defer configMu.Unlock()
	if configInst == nil {
		return fmt.Errorf("configuration not initialized")
	}
	for k, v := range overrides {
		configInst.Set(k, v)
	}
	return nil
}

// GetString fetches a string configuration value, initializing on demand.
func GetString(key string) string {
	v, err := getViper()
	if err != nil {
		return ""
	}
	return v.GetString(key)
}

// GetBool fetches a bool configuration value, initializing on demand.
func GetBool(key string) bool {
	v, err := getViper()
	if err != nil {
		return false
	}
	return v.GetBool(key)
}

// GetInt fetches an integer configuration value, initializing on demand.
func GetInt(key string) int {
	v, err := getViper()
	if err != nil {
		return 0
	}
	return v.GetInt(key)
}

// GetDuration fetches a duration configuration value, initializing on demand.
func GetDuration(key string) time.Duration {
	v, err := getViper()
	if err != nil {
		return 0
	}
	return v.GetDuration(key)
}

func configure(settings *initSettings) error {
	v := viper.New()
	v.SetConfigType("toml")
	setDefaults(v)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	workDir := strings.TrimSpace(settings.workDir)
	if workDir == "" {
		workDir = strings.TrimSpace(v.GetString(KeyWorkDir))
	}
	if workDir == "" {
		path, err := defaultWorkDir()
		if err != nil {
			return err
		}
		workDir = path
	}
	v.Set(KeyWorkDir, workDir)

	settingsPath := strings.TrimSpace(settings.settingsPath)
	if settingsPath == "" {
		settingsPath = filepath.Join(workDir, SettingsFileName)
	}
	if err := mergeConfigFile(v, settingsPath); err != nil {
		return fmt.Errorf("load settings: %w", err)
	}

	configMu.Lock()
	defer configMu.Unlock()
	configInst = v
	return nil
}

func mergeConfigFile(v *viper.Viper, path string) error {
	if strings.TrimSpace(path) == "" {
		return nil
	}
	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("stat %s: %w", path, err)
	}
	if info.IsDir() {
		return fmt.Errorf("config path %s is a directory", path)
	}
	//nolint:gosec // G304: settings file lives in the user's own work dir
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := v.MergeConfig(bytes.NewReader(data)); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}

func defaultWorkDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("determine user home: %w", err)
	}
	return filepath.Join(home, DefaultWorkDirName), nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault(KeyAssumeYes, false)
	v.SetDefault(KeyReleaseSource, SourceGitee)
	v.SetDefault(KeyReleaseGithubRepo, "sbsrf/home")
	v.SetDefault(KeyReleaseGiteeRepo, "sbxlm/sbxlm")
	v.SetDefault(KeyReleaseTimeout, DefaultReleaseTimeout)
	v.SetDefault(KeyInstallConcurrency, DefaultConcurrency)
	v.SetDefault(KeyInstallTaskTimeout, DefaultTaskTimeout)
	v.SetDefault(KeyDownloadRetries, DefaultRetries)
	v.SetDefault(KeyProcessPollInterval, DefaultPollInterval)
	v.SetDefault(KeyProcessWaitTimeout, DefaultWaitTimeout)
	v.SetDefault(KeyLogLevel, "info")
}

func getViper() (*viper.Viper, error) {
	if err := Initialize(); err != nil {
		return nil, err
	}
	configMu.RLock()
	defer configMu.RUnlock()
	if configInst == nil {
		return nil, fmt.Errorf("configuration not initialized")
	}
	return configInst, nil
}

// reset clears package state for tests.
//
//nolint:unused // Used in config_test.go
func reset() {
	configMu.Lock()
	defer configMu.Unlock()
	configInst = nil
	initErr = nil
	configOnce = sync.Once{}
}

// ResetForTesting clears package state for tests in other packages.
// Returns a cleanup function that should be deferred.
func ResetForTesting(t interface{ TempDir() string }) func() {
	reset()
	tmp := t.TempDir()
	_ = Initialize(WithWorkDir(tmp))
	return reset
}
