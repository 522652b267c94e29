package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/burncloud/model-installer/pkg/checksum"
	"github.com/burncloud/model-installer/pkg/errkind"
	"github.com/burncloud/model-installer/pkg/validation"
	"github.com/docker/go-units"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

type validateFlags struct {
	strict       bool
	quick        bool
	jsonOutput   bool
	checksum     string
	checksumType string
}

func newValidateCmd(a *app) *cobra.Command {
	var flags validateFlags
	cmd := &cobra.Command{
		Use:   "validate PATH",
		Short: "Run the validation checks against a model file",
		Long: `Run the validation checks against a local model file and print the report.
The command fails when the file is not valid.

Examples:
  modelctl validate ./qwen2-7b.gguf
  modelctl validate ./model.bin --strict --checksum 9f86d0...`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(cmd, a, args[0], flags)
		},
	}
	cmd.Flags().BoolVar(&flags.strict, "strict", false, "Treat high-severity findings as fatal")
	cmd.Flags().BoolVar(&flags.quick, "quick", false, "Only run the checksum and format checks")
	cmd.Flags().BoolVar(&flags.jsonOutput, "json", false, "Print the report as JSON")
	cmd.Flags().StringVar(&flags.checksum, "checksum", "", "Expected checksum of the file (hex)")
	cmd.Flags().StringVar(&flags.checksumType, "checksum-type", "sha256", "Checksum algorithm: sha256, sha512 or md5")
	return cmd
}

func runValidate(cmd *cobra.Command, a *app, path string, flags validateFlags) error {
	engine, err := a.validationEngine()
	if err != nil {
		return err
	}
	cfg := a.cfg.Validation
	if flags.quick {
		cfg = validation.QuickConfig()
	}
	if flags.strict {
		cfg.StrictMode = true
	}
	if flags.checksum != "" {
		t, err := checksum.ParseType(flags.checksumType)
		if err != nil {
			return err
		}
		sum, err := checksum.ParseHex(flags.checksum, t)
		if err != nil {
			return err
		}
		cfg.ExpectedChecksum = sum
		cfg.ChecksumType = t
	}

	result, err := engine.Validate(cmd.Context(), path, "", cfg)
	if err != nil {
		return err
	}
	if flags.jsonOutput {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		if err := enc.Encode(result); err != nil {
			return err
		}
	} else {
		printResult(cmd, result)
	}
	if !result.Valid {
		return errkind.Wrap(errkind.Policy, "validate", fmt.Errorf("%s is not valid", path))
	}
	return nil
}

// printResult renders a validation report as tables.
func printResult(cmd *cobra.Command, r *validation.Result) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s\n", r.Path)
	fmt.Fprintf(out, "  format: %s  size: %s  sha256: %s\n",
		r.Metadata.Format, units.HumanSize(float64(r.Metadata.Size)), r.Metadata.SHA256)
	if r.Metadata.Architecture != "" {
		fmt.Fprintf(out, "  architecture: %s  parameters: %s  quantization: %s\n",
			r.Metadata.Architecture, r.Metadata.Parameters, r.Metadata.Quantization)
	}
	if r.Metadata.WeightsSize != "" {
		fmt.Fprintf(out, "  weights: %s", r.Metadata.WeightsSize)
		if n := len(r.Metadata.Shards); n > 1 {
			fmt.Fprintf(out, " in %d shards", n)
		}
		fmt.Fprintln(out)
	}

	checks := make([][]string, 0, len(r.Checks))
	for _, c := range r.Checks {
		checks = append(checks, []string{c.Kind.String(), string(c.Status), c.Message})
	}
	renderTable(out, []string{"CHECK", "STATUS", "MESSAGE"}, checks)

	if len(r.Errors) > 0 {
		rows := make([][]string, 0, len(r.Errors))
		for _, e := range r.Errors {
			rows = append(rows, []string{e.Severity.String(), string(e.Type), e.Message})
		}
		renderTable(out, []string{"SEVERITY", "ERROR", "MESSAGE"}, rows)
	}
	for _, w := range r.Warnings {
		fmt.Fprintf(out, "warning: %s", w.Message)
		if w.Recommendation != "" {
			fmt.Fprintf(out, " (%s)", strings.TrimSuffix(w.Recommendation, "."))
		}
		fmt.Fprintln(out)
	}
	fmt.Fprintln(out, r.Summary())
}

func renderTable(w io.Writer, header []string, rows [][]string) {
	table := tablewriter.NewTable(w, tablewriter.WithHeader(header))
	for _, row := range rows {
		table.Append(row)
	}
	table.Render()
}
