package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cristianradulescu/phpcsfixer-formatter/internal/utils"
)

func (a *app) newFixCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "fix FILE...",
		Short: "Fix files in place",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			f := a.newFixer()

			failed := 0
			for _, file := range args {
				cfg, ictx, err := a.resolve(file)
				if err != nil {
					return err
				}

				outcome, err := f.Fix(cmd.Context(), cfg, ictx)
				if err != nil {
					printFailure(out, file, err)
					failed++
					continue
				}
				printOutcome(out, file, outcome)
			}

			if failed > 0 {
				return fmt.Errorf("%d of %d files could not be fixed", failed, len(args))
			}

			return nil
		},
	}
}

func (a *app) newCheckCommand() *cobra.Command {
	var describe bool

	cmd := &cobra.Command{
		Use:   "check FILE...",
		Short: "Report the fixers that would change each file, without touching it",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			f := a.newFixer()

			failed, dirty := 0, 0
			for _, file := range args {
				cfg, ictx, err := a.resolve(file)
				if err != nil {
					return err
				}

				report, err := f.Check(cmd.Context(), cfg, ictx)
				if err != nil {
					printFailure(out, file, err)
					failed++
					continue
				}

				if !report.NeedsFixing {
					printOutcome(out, file, report.Outcome)
					continue
				}

				dirty++
				fmt.Fprintf(out, "%s %s\n", warningColor.Sprint("✗"), file)
				for _, fileReport := range report.Files {
					for _, rule := range fileReport.AppliedFixers {
						fmt.Fprintf(out, "  - %s %s\n", utils.SnakeCaseToHumanReadable(rule), ruleColor.Sprintf("(%s)", rule))
						if !describe {
							continue
						}
						if description, err := f.Describe(cmd.Context(), cfg, ictx, rule); err == nil && description != "" {
							printIndented(out, dimColor, "  "+description)
						}
					}
					for _, r := range fileReport.Ranges {
						fmt.Fprintf(out, "    %s\n", dimColor.Sprintf("line %d", r.Start.Line+1))
					}
				}
			}

			if failed > 0 {
				return fmt.Errorf("%d of %d files could not be checked", failed, len(args))
			}
			if dirty > 0 {
				return ErrNeedsFixing
			}

			return nil
		},
	}
	cmd.Flags().BoolVar(&describe, "describe", false, "Print the description of each rule")

	return cmd
}
