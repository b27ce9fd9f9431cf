package device

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	"sbsrf-update/internal/backup"
	"sbsrf-update/internal/download"
	apperrors "sbsrf-update/internal/errors"
	"sbsrf-update/internal/fsutil"
	"sbsrf-update/internal/process"
	"sbsrf-update/internal/transport"
)

// Record keys in config.toml.
const (
	keyName       = "name"
	keyExe        = "exe"
	keyLiveDir    = "live_dir"
	keyWorkDir    = "work_dir"
	keyMaxBackups = "max_backups"
	keySentence   = "sentence"
	keyVersion    = "version"
)

// DefaultPointerName is the file inside the OS-named directory that names
// the device used when no name is given.
const DefaultPointerName = "default"

// Registry keeps one record per device under <work_dir>/<name>/.
type Registry struct {
	workDir    string
	goos       string
	homeDir    string
	appDataDir string
	cache      *download.Cache
	runner     process.Runner
	reload     Reloader
	remoteOpts []transport.RemoteOption
	tempRoot   string
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithGOOS overrides the platform used for defaults and detection.
func WithGOOS(goos string) RegistryOption {
	return func(r *Registry) {
		r.goos = goos
	}
}

// WithHomeDir overrides the home directory used for default live directories.
func WithHomeDir(home string) RegistryOption {
	return func(r *Registry) {
		r.homeDir = home
	}
}

// WithAppDataDir overrides %APPDATA% for Weasel.
func WithAppDataDir(dir string) RegistryOption {
	return func(r *Registry) {
		r.appDataDir = dir
	}
}

// WithCache sets the shared download cache used by local devices.
func WithCache(c *download.Cache) RegistryOption {
	return func(r *Registry) {
		r.cache = c
	}
}

// WithRunner sets the command runner for process control and detection.
func WithRunner(runner process.Runner) RegistryOption {
	return func(r *Registry) {
		r.runner = runner
	}
}

// WithReloader replaces the D-Bus reload used by Fcitx5.
func WithReloader(reload Reloader) RegistryOption {
	return func(r *Registry) {
		r.reload = reload
	}
}

// WithRemoteOptions passes options to every remote transport.
func WithRemoteOptions(opts ...transport.RemoteOption) RegistryOption {
	return func(r *Registry) {
		r.remoteOpts = append(r.remoteOpts, opts...)
	}
}

// WithTempRoot places scratch directories under dir.
func WithTempRoot(dir string) RegistryOption {
	return func(r *Registry) {
		r.tempRoot = dir
	}
}

// NewRegistry creates a registry rooted at workDir.
func NewRegistry(workDir string, opts ...RegistryOption) *Registry {
	r := &Registry{
		workDir: workDir,
		goos:    runtime.GOOS,
		runner:  process.ExecRunner{},
		reload:  DBusReload,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.homeDir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			r.homeDir = home
		}
	}
	if r.appDataDir == "" {
		r.appDataDir = os.Getenv("APPDATA")
		if r.appDataDir == "" {
			r.appDataDir = filepath.Join(r.homeDir, "AppData", "Roaming")
		}
	}
	if r.cache == nil {
		r.cache = download.NewCache(filepath.Join(workDir, "_cache"), nil, nil)
	}
	return r
}

// WorkDir returns the registry root.
func (r *Registry) WorkDir() string {
	return r.workDir
}

// OSName is the device name used when none is given.
func (r *Registry) OSName() string {
	return r.goos
}

// Dir returns the directory of the named device.
func (r *Registry) Dir(name string) string {
	return filepath.Join(r.workDir, name)
}

// ConfigPath returns the record file of the named device.
func (r *Registry) ConfigPath(name string) string {
	return filepath.Join(r.Dir(name), ConfigFileName)
}

func (r *Registry) pointerPath() string {
	return filepath.Join(r.Dir(r.goos), DefaultPointerName)
}

// Exists reports whether the named device has a record on disk.
func (r *Registry) Exists(name string) bool {
	info, err := os.Stat(r.ConfigPath(name))
	return err == nil && info.Mode().IsRegular()
}

// Default returns the name used when none is given: the device named by the
// default pointer, or the OS name.
func (r *Registry) Default() string {
	data, err := os.ReadFile(r.pointerPath())
	if err != nil {
		return r.goos
	}
	if name := strings.TrimSpace(string(data)); name != "" {
		return name
	}
	return r.goos
}

// Resolve maps an empty or OS name to the default device.
func (r *Registry) Resolve(name string) string {
	name = strings.TrimSpace(name)
	if name == "" || name == r.goos {
		return r.Default()
	}
	return name
}

// SetDefault points the OS name at the named device.
func (r *Registry) SetDefault(name string) error {
	if err := validateName(name); err != nil {
		return err
	}
	if name == r.goos {
		if err := os.Remove(r.pointerPath()); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return apperrors.New(apperrors.CodeFilesystemFailure, "remove default pointer", err)
		}
		return nil
	}
	if !r.Exists(name) {
		return NotFound(name)
	}
	if err := fsutil.WriteFileAtomic(r.pointerPath(), []byte(name+"\n"), 0644); err != nil {
		return apperrors.New(apperrors.CodeFilesystemFailure, "write default pointer", err)
	}
	return nil
}

// DefaultConfig returns a fresh record for variant stored under name.
func (r *Registry) DefaultConfig(variant Variant, name string) Config {
	cfg := Config{
		Name:       string(variant),
		WorkDir:    r.Dir(name),
		MaxBackups: DefaultMaxBackups,
		Version:    DefaultVersion,
	}
	switch variant {
	case VariantSquirrel:
		cfg.Exe = "/Library/Input Methods/Squirrel.app/Contents/MacOS/Squirrel"
		cfg.LiveDir = filepath.Join(r.homeDir, "Library", "Rime")
	case VariantFcitx5:
		if r.goos == "darwin" {
			cfg.Exe = "/Library/Input Methods/Fcitx5.app/Contents/MacOS/Fcitx5"
		}
		cfg.LiveDir = filepath.Join(r.homeDir, ".local", "share", "fcitx5", "rime")
	case VariantWeasel:
		cfg.Exe = findWeaselServer()
		cfg.LiveDir = filepath.Join(r.appDataDir, "Rime")
	}
	return cfg
}

// OSVariant returns the engine assumed for this platform.
func (r *Registry) OSVariant() (Variant, error) {
	switch r.goos {
	case "darwin":
		return VariantSquirrel, nil
	case "windows":
		return VariantWeasel, nil
	case "linux":
		return VariantFcitx5, nil
	}
	return "", apperrors.New(apperrors.CodeUnsupportedEngine,
		fmt.Sprintf("no supported input method engine on %s", r.goos), nil)
}

// Load reads the named record. A missing record for the OS name yields the
// platform default, unsaved.
func (r *Registry) Load(name string) (*Config, error) {
	return r.loadRecord(r.Resolve(name))
}

func (r *Registry) loadRecord(name string) (*Config, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}

	path := r.ConfigPath(name)
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		if name != r.goos {
			return nil, NotFound(name)
		}
		variant, err := r.OSVariant()
		if err != nil {
			return nil, err
		}
		cfg := r.DefaultConfig(variant, name)
		return &cfg, nil
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("toml")
	v.SetDefault(keyMaxBackups, DefaultMaxBackups)
	v.SetDefault(keyVersion, DefaultVersion)
	if err := v.ReadInConfig(); err != nil {
		return nil, apperrors.New(apperrors.CodeConfigurationError,
			fmt.Sprintf("read %s", path), err)
	}

	cfg := &Config{
		Name:       v.GetString(keyName),
		Exe:        v.GetString(keyExe),
		LiveDir:    v.GetString(keyLiveDir),
		WorkDir:    r.Dir(name),
		MaxBackups: v.GetInt(keyMaxBackups),
		Sentence:   v.GetBool(keySentence),
		Version:    v.GetString(keyVersion),
	}
	if cfg.MaxBackups < 0 {
		cfg.MaxBackups = 0
	}
	if stored := v.GetString(keyWorkDir); stored != "" && filepath.Clean(stored) != cfg.WorkDir {
		log.Debugf("record %s was written for %s, using %s", name, stored, cfg.WorkDir)
	}
	return cfg, nil
}

// Save writes the whole record of the named device.
func (r *Registry) Save(name string, cfg *Config) error {
	if err := validateName(name); err != nil {
		return err
	}
	dir := r.Dir(name)
	cfg.WorkDir = dir

	v := viper.New()
	v.SetConfigType("toml")
	v.Set(keyName, cfg.Name)
	v.Set(keyExe, cfg.Exe)
	v.Set(keyLiveDir, cfg.LiveDir)
	v.Set(keyWorkDir, cfg.WorkDir)
	v.Set(keyMaxBackups, cfg.MaxBackups)
	v.Set(keySentence, cfg.Sentence)
	v.Set(keyVersion, cfg.Version)

	//nolint:gosec // G301: user-owned work dir
	if err := os.MkdirAll(dir, 0755); err != nil {
		return apperrors.New(apperrors.CodeFilesystemFailure, fmt.Sprintf("create %s", dir), err)
	}

	// The temp name keeps the .toml extension so viper picks the encoder.
	tmp := filepath.Join(dir, ".config.partial.toml")
	if err := v.WriteConfigAs(tmp); err != nil {
		_ = os.Remove(tmp)
		return apperrors.New(apperrors.CodeFilesystemFailure, "write device record", err)
	}
	if err := os.Rename(tmp, r.ConfigPath(name)); err != nil {
		_ = os.Remove(tmp)
		return apperrors.New(apperrors.CodeFilesystemFailure, "replace device record", err)
	}
	return nil
}

// AddRemote creates a Hamster record. An existing record is left alone.
func (r *Registry) AddRemote(name string) (*Config, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}
	if r.Exists(name) {
		return nil, apperrors.New(apperrors.CodeConfigurationError,
			fmt.Sprintf("device %s already exists", name), nil)
	}
	cfg := r.DefaultConfig(VariantHamster, name)
	if err := r.Save(name, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Remove deletes the device directory with its backups.
func (r *Registry) Remove(name string) error {
	if err := validateName(name); err != nil {
		return err
	}
	dir := r.Dir(name)
	if _, err := os.Stat(dir); errors.Is(err, fs.ErrNotExist) {
		return NotFound(name)
	}
	if r.Default() == name {
		if err := r.SetDefault(r.goos); err != nil {
			return err
		}
	}
	if name == r.goos {
		return r.clearOSDir(dir)
	}
	if err := os.RemoveAll(dir); err != nil {
		return apperrors.New(apperrors.CodeFilesystemFailure, fmt.Sprintf("remove %s", dir), err)
	}
	return nil
}

// clearOSDir empties the OS device directory but keeps the default pointer,
// which points at another device.
func (r *Registry) clearOSDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return apperrors.New(apperrors.CodeFilesystemFailure, fmt.Sprintf("read %s", dir), err)
	}
	kept := false
	for _, e := range entries {
		if e.Name() == DefaultPointerName {
			kept = true
			continue
		}
		path := filepath.Join(dir, e.Name())
		if err := os.RemoveAll(path); err != nil {
			return apperrors.New(apperrors.CodeFilesystemFailure, fmt.Sprintf("remove %s", path), err)
		}
	}
	if !kept {
		if err := os.Remove(dir); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return apperrors.New(apperrors.CodeFilesystemFailure, fmt.Sprintf("remove %s", dir), err)
		}
	}
	return nil
}

// Entry is one row of List.
type Entry struct {
	Name    string
	Variant Variant
	Version string
	Default bool
}

// List returns the recorded devices sorted by name. Directories starting
// with "_" hold shared state and are skipped.
func (r *Registry) List() ([]Entry, error) {
	dirEntries, err := os.ReadDir(r.workDir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.New(apperrors.CodeFilesystemFailure, fmt.Sprintf("read %s", r.workDir), err)
	}

	def := r.Default()
	var entries []Entry
	for _, e := range dirEntries {
		name := e.Name()
		if !e.IsDir() || strings.HasPrefix(name, "_") || strings.HasPrefix(name, ".") || !r.Exists(name) {
			continue
		}
		cfg, err := r.loadRecord(name)
		if err != nil {
			log.Warnf("skipping device %s: %v", name, err)
			continue
		}
		entries = append(entries, Entry{
			Name:    name,
			Variant: cfg.Variant(),
			Version: cfg.Version,
			Default: name == def,
		})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	return entries, nil
}

// Open builds the Device for a loaded record. host is required for remote
// variants and ignored otherwise.
func (r *Registry) Open(name string, cfg *Config, host string) (Device, error) {
	switch cfg.Variant() {
	case VariantSquirrel:
		return &Squirrel{local: r.local(name, cfg), runner: r.runner}, nil
	case VariantWeasel:
		return &Weasel{
			local:  r.local(name, cfg),
			runner: r.runner,
			guard:  process.NewTasklistGuard(weaselServerImage, cfg.Exe, r.runner),
		}, nil
	case VariantFcitx5:
		return &Fcitx5{local: r.local(name, cfg), reload: r.reload}, nil
	case VariantHamster:
		opts := append([]transport.RemoteOption{transport.WithTempRoot(r.tempRoot)}, r.remoteOpts...)
		remote, err := transport.NewRemote(host, opts...)
		if err != nil {
			return nil, err
		}
		return &Hamster{base: newBase(name, cfg), remote: remote, tempRoot: r.tempRoot}, nil
	}
	return nil, apperrors.New(apperrors.CodeUnsupportedEngine,
		fmt.Sprintf("device %s uses an unsupported engine %q", name, cfg.Name), nil)
}

func (r *Registry) local(name string, cfg *Config) local {
	if strings.TrimSpace(cfg.LiveDir) == "" {
		log.Warnf("device %s has no live directory configured", name)
	}
	return local{base: newBase(name, cfg), transport: transport.NewLocal(r.cache, cfg.LiveDir)}
}

// Candidate is an engine found running on this machine.
type Candidate struct {
	Variant Variant
	Exe     string
}

type engineSignature struct {
	variant Variant
	process string
}

var engineSignatures = map[string][]engineSignature{
	"darwin":  {{VariantSquirrel, "Squirrel"}, {VariantFcitx5, "Fcitx5"}},
	"linux":   {{VariantFcitx5, "fcitx5"}},
	"windows": {{VariantWeasel, weaselServerImage}},
}

// Detect scans the process table for supported engines.
func (r *Registry) Detect(ctx context.Context) ([]Candidate, error) {
	finder := &process.Finder{Runner: r.runner, GOOS: r.goos}
	var found []Candidate
	for _, p := range engineSignatures[r.goos] {
		path, ok, err := finder.Find(ctx, p.process)
		if err != nil {
			return nil, apperrors.New(apperrors.CodeProcessControlFailure, "scan running processes", err)
		}
		if !ok {
			continue
		}
		c := Candidate{Variant: p.variant}
		if filepath.IsAbs(path) {
			c.Exe = path
		}
		log.Debugf("detected %s (%s)", p.variant, path)
		found = append(found, c)
	}
	return found, nil
}

// Adopt saves a record for a detected engine under its variant name and
// makes it the default.
func (r *Registry) Adopt(c Candidate) (string, *Config, error) {
	name := string(c.Variant)
	if r.Exists(name) {
		cfg, err := r.loadRecord(name)
		if err != nil {
			return "", nil, err
		}
		return name, cfg, r.SetDefault(name)
	}
	cfg := r.DefaultConfig(c.Variant, name)
	if c.Exe != "" {
		cfg.Exe = c.Exe
	}
	if err := r.Save(name, &cfg); err != nil {
		return "", nil, err
	}
	return name, &cfg, r.SetDefault(name)
}

func findWeaselServer() string {
	root := os.Getenv("ProgramFiles")
	if root == "" {
		root = `C:\Program Files`
	}
	matches, _ := filepath.Glob(filepath.Join(root, "Rime", "weasel-*", weaselServerImage))
	if len(matches) == 0 {
		return ""
	}
	sort.Strings(matches)
	return matches[len(matches)-1]
}

func backupRoot(workDir string) string {
	return filepath.Join(workDir, backup.DirName)
}

func validateName(name string) error {
	if name == "" || name == "." || name == ".." || strings.HasPrefix(name, "_") ||
		strings.ContainsAny(name, `/\`) || filepath.Base(name) != name {
		return apperrors.New(apperrors.CodeConfigurationError, fmt.Sprintf("invalid device name %q", name), nil)
	}
	return nil
}

// NotFound reports that no record exists for name.
func NotFound(name string) error {
	return apperrors.New(apperrors.CodeConfigNotFound, fmt.Sprintf("device %s does not exist", name), nil)
}
