package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"sbsrf-update/internal/debug"
	apperrors "sbsrf-update/internal/errors"
)

func (c *cli) cleanCommand() *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "clean",
		Short: "Delete downloaded release files",
		Long: `Delete the download cache so the next update fetches every file again.
With --all the whole work directory goes, including device records and backups.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := c.setup(cmd.Context())
			if err != nil {
				return err
			}
			w := a.env.stdout
			if !all {
				if err := a.cache.Clear(cmd.Context()); err != nil {
					return apperrors.New(apperrors.CodeFilesystemFailure, "clear the download cache", err)
				}
				_, _ = fmt.Fprintf(w, "%s Removed %s\n", successStyle.Render("✓"), a.cache.Dir())
				return nil
			}

			workDir := a.settings.WorkDir
			ok, err := a.prompter.Confirm(
				fmt.Sprintf("Delete %s with every device record and backup?", workDir), false)
			if err != nil {
				return err
			}
			if !ok {
				_, _ = fmt.Fprintln(w, dimStyle.Render("Nothing was changed."))
				return nil
			}
			// The journal and the debug log live inside the work dir.
			c.close()
			if err := os.RemoveAll(workDir); err != nil {
				return apperrors.New(apperrors.CodeFilesystemFailure, "remove "+workDir, err)
			}
			if debug.Enabled() {
				_, _ = fmt.Fprintln(w, dimStyle.Render("The debug log was removed with it."))
			}
			_, _ = fmt.Fprintf(w, "%s Removed %s\n", successStyle.Render("✓"), workDir)
			return nil
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "remove the whole work directory")
	return cmd
}
