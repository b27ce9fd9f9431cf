package main

import (
	"context"
	"fmt"
	"io"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"sbsrf-update/internal/device"
	"sbsrf-update/internal/orchestrator"
)

func (c *cli) updateCommand() *cobra.Command {
	var (
		force bool
		host  string
	)
	cmd := &cobra.Command{
		Use:   "update [name]",
		Short: "Install the latest release on a device",
		Long: `Install the latest sbsrf release on the named device, or on the default
device of this computer when no name is given. The current files are backed
up first.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := c.setup(cmd.Context())
			if err != nil {
				return err
			}
			return a.update(cmd.Context(), firstArg(args), host, orchestrator.UpdateOptions{Force: force})
		},
	}
	cmd.Flags().BoolVarP(&force, "force", "f", false, "reinstall even when the device is up to date")
	cmd.Flags().StringVarP(&host, "host", "H", "", "address of the phone for remote devices")
	return cmd
}

// runDefault is the bare invocation: remember the running engine on first
// use, then update the default device.
func (c *cli) runDefault(ctx context.Context) error {
	a, err := c.setup(ctx)
	if err != nil {
		return err
	}
	name, err := a.adoptRunningEngine(ctx)
	if err != nil {
		return err
	}
	return a.update(ctx, name, "", orchestrator.UpdateOptions{})
}

// adoptRunningEngine returns the default device name, creating its record
// from the running engines when there is none yet.
func (a *app) adoptRunningEngine(ctx context.Context) (string, error) {
	reg := a.registry
	name := reg.Resolve("")
	if reg.Exists(name) {
		return name, nil
	}

	found, err := reg.Detect(ctx)
	if err != nil {
		return "", err
	}
	var pick device.Candidate
	switch len(found) {
	case 0:
		log.Debugf("no running engine found, using the defaults for %s", reg.OSName())
		return name, nil
	case 1:
		pick = found[0]
	default:
		options := make([]string, len(found))
		for i, f := range found {
			options[i] = string(f.Variant)
		}
		idx, err := a.prompter.Select("Several engines are running. Which one should be updated by default?", options, 0)
		if err != nil {
			return "", err
		}
		pick = found[idx]
	}

	adopted, _, err := reg.Adopt(pick)
	if err != nil {
		return "", err
	}
	_, _ = fmt.Fprintf(a.env.stdout, "Found %s, it is now the default device\n", titleStyle.Render(adopted))
	return adopted, nil
}

func (a *app) update(ctx context.Context, name, host string, opts orchestrator.UpdateOptions) error {
	dev, err := a.openDevice(name, host)
	if err != nil {
		return err
	}
	u, sink, err := a.updater()
	if err != nil {
		return err
	}
	result, err := u.Update(ctx, dev, opts)
	sink.Close()
	if err != nil {
		return err
	}
	printUpdateResult(a.env.stdout, dev.Name(), result)
	return nil
}

func printUpdateResult(w io.Writer, name string, result *orchestrator.UpdateResult) {
	switch result.State {
	case orchestrator.StateDeclined:
		_, _ = fmt.Fprintln(w, dimStyle.Render("Nothing was changed."))
	case orchestrator.StatePersisted:
		if result.Backup != "" {
			_, _ = fmt.Fprintln(w, dimStyle.Render(fmt.Sprintf("Previous files of %s were saved as backup %s", name, result.From)))
		}
		failed := result.Batch.Failed()
		if len(failed) == 0 {
			_, _ = fmt.Fprintf(w, "%s %s is now at %s\n",
				successStyle.Render("✓"), name, titleStyle.Render(result.To))
			return
		}
		_, _ = fmt.Fprintf(w, "%s %s is now at %s, but %d of %d files failed:\n",
			warnStyle.Render("!"), name, titleStyle.Render(result.To), len(failed), len(result.Batch.Results))
		for _, f := range failed {
			_, _ = fmt.Fprintf(w, "  %s %s: %v\n", errorStyle.Render("✗"), f.Asset.Name, f.Err)
		}
		_, _ = fmt.Fprintln(w, textStyle.Render("Run the update again with --force to retry them."))
	}
}

func firstArg(args []string) string {
	if len(args) == 0 {
		return ""
	}
	return args[0]
}
