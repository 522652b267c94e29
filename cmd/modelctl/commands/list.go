package commands

import (
	"fmt"
	"time"

	"github.com/docker/go-units"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

func newListCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List installed models",
		Long: `List the models installed under the download root, as recorded by their
install descriptors.

Examples:
  modelctl list
  modelctl ls`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runList(cmd, a)
		},
	}
	return cmd
}

func runList(cmd *cobra.Command, a *app) error {
	downloads, err := a.downloadManager()
	if err != nil {
		return err
	}
	records, err := downloads.ListInstalled()
	if err != nil {
		return errors.Wrap(err, "listing installed models")
	}
	if len(records) == 0 {
		cmd.Println("No installed models")
		return nil
	}

	rows := make([][]string, 0, len(records))
	for _, r := range records {
		rows = append(rows, []string{
			r.ID,
			r.Version,
			units.HumanSize(float64(r.FileSize)),
			installedAgo(r.InstalledAt),
			fmtChecksum(shortDigest(r.Checksum), r.ChecksumType),
			r.InstallPath,
		})
	}
	renderTable(cmd.OutOrStdout(), []string{"ID", "VERSION", "SIZE", "INSTALLED", "CHECKSUM", "PATH"}, rows)
	return nil
}

func installedAgo(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return fmt.Sprintf("%s ago", units.HumanDuration(time.Since(t)))
}

func shortDigest(sum string) string {
	if len(sum) > 12 {
		return sum[:12]
	}
	return sum
}

func newUninstallCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:     "uninstall ID",
		Aliases: []string{"rm"},
		Short:   "Remove an installed model",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			downloads, err := a.downloadManager()
			if err != nil {
				return err
			}
			if err := downloads.Uninstall(args[0]); err != nil {
				return errors.Wrapf(err, "uninstalling %s", args[0])
			}
			cmd.Printf("Uninstalled %s\n", args[0])
			return nil
		},
	}
}

func newCancelCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel ID",
		Short: "Discard the partial download of a model",
		Long: `Discard the partial download kept for ID so that the next pull starts
from scratch.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			downloads, err := a.downloadManager()
			if err != nil {
				return err
			}
			if err := downloads.Cancel(args[0]); err != nil {
				return err
			}
			cmd.Printf("Cancelled %s\n", args[0])
			return nil
		},
	}
}
