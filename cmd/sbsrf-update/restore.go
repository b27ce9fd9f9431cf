package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"sbsrf-update/internal/orchestrator"
)

func (c *cli) restoreCommand() *cobra.Command {
	var (
		host    string
		version string
	)
	cmd := &cobra.Command{
		Use:   "restore [name]",
		Short: "Put back the files saved before an update",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := c.setup(cmd.Context())
			if err != nil {
				return err
			}
			return a.restore(cmd.Context(), firstArg(args), host, version)
		},
	}
	cmd.Flags().StringVarP(&host, "host", "H", "", "address of the phone for remote devices")
	cmd.Flags().StringVar(&version, "version", "", "backup to restore (asks when omitted)")
	return cmd
}

func (a *app) restore(ctx context.Context, name, host, version string) error {
	dev, err := a.openDevice(name, host)
	if err != nil {
		return err
	}
	u, sink, err := a.updater()
	if err != nil {
		return err
	}
	result, err := u.Restore(ctx, dev, orchestrator.RestoreOptions{Version: version})
	sink.Close()
	if err != nil {
		return err
	}

	w := a.env.stdout
	switch result.State {
	case orchestrator.StateDeclined:
		_, _ = fmt.Fprintln(w, dimStyle.Render("Nothing was changed."))
	case orchestrator.StatePersisted:
		_, _ = fmt.Fprintf(w, "%s %s was restored to %s\n",
			successStyle.Render("✓"), dev.Name(), titleStyle.Render(result.Version))
	}
	return nil
}
