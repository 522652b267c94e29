package commands

import (
	"github.com/burncloud/model-installer/pkg/checksum"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

func newChecksumCmd(a *app) *cobra.Command {
	var typeName string
	cmd := &cobra.Command{
		Use:   "checksum PATH...",
		Short: "Print the checksum of files",
		Long: `Print the hex digest of each file, in the format of sha256sum.

Examples:
  modelctl checksum ./qwen2-7b.gguf
  modelctl checksum --type sha512 ./a.gguf ./b.gguf`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := checksum.ParseType(typeName)
			if err != nil {
				return err
			}
			for _, path := range args {
				sum, err := checksum.File(path, t)
				if err != nil {
					return errors.Wrapf(err, "computing %s of %s", t, path)
				}
				cmd.Printf("%s  %s\n", sum, path)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&typeName, "type", "t", "sha256", "Checksum algorithm: sha256, sha512 or md5")
	return cmd
}
