package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/mlowell/clinops/pkg/scan"
)

var (
	scanStaged bool
	scanFormat string
)

var scanCmd = &cobra.Command{
	Use:   "scan [path...]",
	Short: "Scan for credentials before they land in git",
	Long: `Scan checks staged git changes (--staged) or the given paths for
private keys, cloud API keys, and high-entropy secret assignments.
A non-zero exit means findings; wire it into a pre-commit hook.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		scanner, err := scan.NewScanner(cfg.Scan.Allow, log)
		if err != nil {
			return err
		}

		var findings []scan.Finding
		switch {
		case scanStaged:
			if len(args) > 0 {
				return fmt.Errorf("--staged does not take paths")
			}
			findings, err = scanner.ScanStaged(cmd.Context())
			if err != nil {
				return err
			}
		case len(args) > 0:
			for _, path := range args {
				pathFindings, err := scanner.ScanPath(path)
				if err != nil {
					return err
				}
				findings = append(findings, pathFindings...)
			}
		default:
			findings, err = scanner.ScanPath(".")
			if err != nil {
				return err
			}
		}

		if scanFormat == "json" {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			if err := enc.Encode(scan.NewReport(findings)); err != nil {
				return err
			}
		} else {
			for _, f := range findings {
				fmt.Printf("%s %s\n  %s\n",
					dangerStyle.Render(fmt.Sprintf("%s:%d", f.File, f.Line)),
					subtleStyle.Render(f.Description),
					f.Excerpt)
			}
		}

		if len(findings) > 0 {
			return fmt.Errorf("%d potential credential(s) found", len(findings))
		}
		if scanFormat != "json" {
			fmt.Println(okStyle.Render("no credentials found"))
		}
		return nil
	},
}

func init() {
	scanCmd.Flags().BoolVar(&scanStaged, "staged", false, "scan the staged git diff instead of files")
	scanCmd.Flags().StringVar(&scanFormat, "format", "text", "output format: text or json")
	rootCmd.AddCommand(scanCmd)
}
