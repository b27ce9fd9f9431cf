package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/atotto/clipboard"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"sbsrf-update/internal/device"
	apperrors "sbsrf-update/internal/errors"
)

// writeClipboard is replaced in tests.
var writeClipboard = clipboard.WriteAll

func (c *cli) deviceCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "device",
		Short: "Manage the devices sbsrf-update knows about",
	}
	cmd.AddCommand(
		c.deviceListCommand(),
		c.deviceAddCommand(),
		c.deviceRemoveCommand(),
		c.deviceEditCommand(),
		c.deviceShowCommand(),
		c.deviceDefaultCommand(),
	)
	return cmd
}

func (c *cli) deviceListCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List devices, marking the default with ->",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := c.setup(cmd.Context())
			if err != nil {
				return err
			}
			entries, err := a.registry.List()
			if err != nil {
				return err
			}
			w := a.env.stdout
			if len(entries) == 0 {
				_, _ = fmt.Fprintln(w, dimStyle.Render("No devices yet. Run sbsrf-update to set up this computer, or `sbsrf-update device add <name>` for a phone."))
				return nil
			}
			for _, e := range entries {
				marker := "  "
				name := e.Name
				if e.Default {
					marker = "->"
					name = titleStyle.Render(e.Name)
				}
				_, _ = fmt.Fprintf(w, "%s %s  %s  %s\n", marker, name,
					dimStyle.Render(string(e.Variant)), e.Version)
			}
			return nil
		},
	}
}

func (c *cli) deviceAddCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "add <name>",
		Short: "Add a phone running Hamster",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := c.setup(cmd.Context())
			if err != nil {
				return err
			}
			name := args[0]
			if _, err := a.registry.AddRemote(name); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(a.env.stdout, "%s Added %s. Update it with: sbsrf-update update -H <phone address> %s\n",
				successStyle.Render("✓"), titleStyle.Render(name), name)
			return nil
		},
	}
}

func (c *cli) deviceRemoveCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "remove <name>",
		Aliases: []string{"rm"},
		Short:   "Forget a device and delete its backups",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := c.setup(cmd.Context())
			if err != nil {
				return err
			}
			name := args[0]
			if !a.registry.Exists(name) {
				return device.NotFound(name)
			}
			ok, err := a.prompter.Confirm(fmt.Sprintf("Remove %s and all of its backups?", name), false)
			if err != nil {
				return err
			}
			if !ok {
				_, _ = fmt.Fprintln(a.env.stdout, dimStyle.Render("Nothing was changed."))
				return nil
			}
			if err := a.registry.Remove(name); err != nil {
				return err
			}
			if a.history != nil {
				if err := a.history.DeleteRuns(cmd.Context(), name); err != nil {
					return apperrors.New(apperrors.CodeFilesystemFailure, "forget run history of "+name, err)
				}
			}
			_, _ = fmt.Fprintf(a.env.stdout, "%s Removed %s\n", successStyle.Render("✓"), name)
			return nil
		},
	}
}

func (c *cli) deviceEditCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "edit [name]",
		Short: "Open a device record in the system editor",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := c.setup(cmd.Context())
			if err != nil {
				return err
			}
			name := a.registry.Resolve(firstArg(args))
			cfg, err := a.registry.Load(name)
			if err != nil {
				return err
			}
			// The OS device works without a record; write one so there is something to edit.
			if !a.registry.Exists(name) {
				if err := a.registry.Save(name, cfg); err != nil {
					return err
				}
			}
			path := a.registry.ConfigPath(name)
			if err := a.openInEditor(path); err != nil {
				return apperrors.New(apperrors.CodeProcessControlFailure,
					fmt.Sprintf("could not open %s, edit it by hand", path), err)
			}
			_, _ = fmt.Fprintf(a.env.stdout, "Opened %s\n", path)
			return nil
		},
	}
}

func (a *app) openInEditor(path string) error {
	runner := a.env.runner
	switch a.registry.OSName() {
	case "darwin":
		return runner.Spawn("open", path)
	case "windows":
		return runner.Spawn("cmd", "/c", "start", "", path)
	default:
		return runner.Spawn("xdg-open", path)
	}
}

func (c *cli) deviceShowCommand() *cobra.Command {
	var copyRecord bool
	cmd := &cobra.Command{
		Use:   "show [name]",
		Short: "Print a device record and its recent runs",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := c.setup(cmd.Context())
			if err != nil {
				return err
			}
			return a.showDevice(cmd.Context(), a.registry.Resolve(firstArg(args)), copyRecord)
		},
	}
	cmd.Flags().BoolVarP(&copyRecord, "copy", "c", false, "also copy the record to the clipboard")
	return cmd
}

func (a *app) showDevice(ctx context.Context, name string, copyRecord bool) error {
	cfg, err := a.registry.Load(name)
	if err != nil {
		return err
	}
	record, err := a.recordText(name, cfg)
	if err != nil {
		return err
	}

	w := a.env.stdout
	_, _ = fmt.Fprintln(w, titleStyle.Render(name))
	_, _ = fmt.Fprintln(w, record)

	if a.history != nil {
		runs, err := a.history.RecentRuns(ctx, name, recentRuns)
		if err != nil {
			return apperrors.New(apperrors.CodeFilesystemFailure, "read run history", err)
		}
		if len(runs) > 0 {
			_, _ = fmt.Fprintln(w, titleStyle.Render("Recent runs"))
		}
		for _, r := range runs {
			line := fmt.Sprintf("%-8s %s -> %s  %s", r.Kind, r.From, r.To, r.Outcome)
			_, _ = fmt.Fprintf(w, "  %s  %s\n", line, dimStyle.Render(humanize.Time(r.StartedAt)))
		}
	}

	if copyRecord {
		if err := writeClipboard(record); err != nil {
			_, _ = fmt.Fprintln(w, warnStyle.Render("Could not copy to the clipboard: "+err.Error()))
			return nil
		}
		_, _ = fmt.Fprintln(w, dimStyle.Render("Copied to the clipboard."))
	}
	return nil
}

// recordText is the on-disk record, or the defaults that would be written.
func (a *app) recordText(name string, cfg *device.Config) (string, error) {
	data, err := os.ReadFile(a.registry.ConfigPath(name))
	if err == nil {
		return strings.TrimRight(string(data), "\n"), nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return "", apperrors.New(apperrors.CodeFilesystemFailure, "read record of "+name, err)
	}
	return strings.Join([]string{
		fmt.Sprintf("name = %q", cfg.Name),
		fmt.Sprintf("exe = %q", cfg.Exe),
		fmt.Sprintf("live_dir = %q", cfg.LiveDir),
		fmt.Sprintf("work_dir = %q", cfg.WorkDir),
		fmt.Sprintf("max_backups = %d", cfg.MaxBackups),
		fmt.Sprintf("sentence = %t", cfg.Sentence),
		fmt.Sprintf("version = %q", cfg.Version),
	}, "\n"), nil
}

func (c *cli) deviceDefaultCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "default [name]",
		Short: "Show or change the device updated when no name is given",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := c.setup(cmd.Context())
			if err != nil {
				return err
			}
			w := a.env.stdout
			if len(args) == 0 {
				_, _ = fmt.Fprintln(w, a.registry.Default())
				return nil
			}
			if err := a.registry.SetDefault(args[0]); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(w, "%s %s is now the default device\n",
				successStyle.Render("✓"), titleStyle.Render(a.registry.Default()))
			return nil
		},
	}
}
