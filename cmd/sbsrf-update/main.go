// Command sbsrf-update installs and restores sbsrf dictionaries for the Rime
// input method engines on this computer and on phones running Hamster.
package main

import (
	"context"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"sbsrf-update/internal/config"
	"sbsrf-update/internal/debug"
	"sbsrf-update/internal/device"
	"sbsrf-update/internal/process"
	"sbsrf-update/internal/prompt"
)

// env is what the commands take from the outside world.
type env struct {
	stdout      io.Writer
	stderr      io.Writer
	interactive bool
	runner      process.Runner
	prompter    prompt.Prompter
	httpClient  *http.Client
	registry    []device.RegistryOption
}

func defaultEnv() env {
	return env{
		stdout:      os.Stdout,
		stderr:      os.Stderr,
		interactive: term.IsTerminal(int(os.Stdout.Fd())),
		runner:      process.ExecRunner{},
	}
}

type rootOptions struct {
	debug    bool
	logLevel string
	workDir  string
	yes      bool
	source   string
}

// cli carries parsed flags and the lazily built application.
type cli struct {
	env  env
	opts rootOptions
	app  *app
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], defaultEnv())
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, e env) int {
	c := &cli{env: e}
	root := c.rootCommand()
	root.SetArgs(args)
	root.SetOut(e.stdout)
	root.SetErr(e.stderr)
	code := reportError(e.stderr, root.ExecuteContext(ctx))
	c.close()
	return code
}

func (c *cli) rootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "sbsrf-update",
		Short: "Install sbsrf dictionaries into Rime input method engines",
		Long: `sbsrf-update keeps the sbsrf dictionaries of your Rime engines current.

Run without a command to update the default engine of this computer. The
first run looks for a running engine and remembers it.`,
		Args:          cobra.NoArgs,
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.runDefault(cmd.Context())
		},
	}

	flags := root.PersistentFlags()
	flags.BoolVar(&c.opts.debug, "debug", false, "write a debug log under <work-dir>/_logs")
	flags.StringVar(&c.opts.logLevel, "log-level", "", "debug log level (trace, debug, info, warn, error)")
	flags.StringVar(&c.opts.workDir, "work-dir", "", "where device records and backups are kept (default ~/"+config.DefaultWorkDirName+")")
	flags.BoolVarP(&c.opts.yes, "yes", "y", false, "answer every question with its default")
	flags.StringVar(&c.opts.source, "source", "", "release source: gitee or github")

	root.AddCommand(
		c.updateCommand(),
		c.restoreCommand(),
		c.deviceCommand(),
		c.cleanCommand(),
		c.versionCommand(),
	)
	return root
}

// setup resolves configuration and wires the application once per process.
func (c *cli) setup(ctx context.Context) (*app, error) {
	if c.app != nil {
		return c.app, nil
	}

	var initOpts []config.Option
	if c.opts.workDir != "" {
		initOpts = append(initOpts, config.WithWorkDir(c.opts.workDir))
	}
	if err := config.Initialize(initOpts...); err != nil {
		return nil, configError(err)
	}

	overrides := map[string]any{}
	if c.opts.workDir != "" {
		overrides[config.KeyWorkDir] = c.opts.workDir
	}
	if c.opts.yes {
		overrides[config.KeyAssumeYes] = true
	}
	if c.opts.source != "" {
		overrides[config.KeyReleaseSource] = c.opts.source
	}
	if c.opts.logLevel != "" {
		overrides[config.KeyLogLevel] = c.opts.logLevel
	}
	if err := config.ApplyOverrides(overrides); err != nil {
		return nil, configError(err)
	}

	settings, err := config.Resolve()
	if err != nil {
		return nil, configError(err)
	}
	if err := debug.Init(debug.Options{
		Enabled: c.opts.debug,
		Level:   settings.LogLevel,
		Dir:     settings.LogDir(),
	}); err != nil {
		return nil, configError(err)
	}
	log.WithFields(log.Fields{
		"work_dir": settings.WorkDir,
		"source":   settings.ReleaseSource,
	}).Debug("settings resolved")

	a, err := newApp(ctx, settings, c.env)
	if err != nil {
		return nil, err
	}
	c.app = a
	return a, nil
}

func (c *cli) close() {
	if c.app != nil {
		c.app.close()
		c.app = nil
	}
	debug.Close()
}
