package cli

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
	"mvdan.cc/sh/v3/syntax"
)

func (a *app) newCommandCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "command FILE",
		Short: "Print the php-cs-fixer command line that would fix FILE",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, ictx, err := a.resolve(args[0])
			if err != nil {
				return err
			}

			if err := a.resolver.Validate(cfg, ictx); err != nil {
				return err
			}

			command, err := a.resolver.BuildCommand(cfg, ictx)
			if err != nil {
				return err
			}

			line, err := shellQuote(command.Args)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, line)
			fmt.Fprintln(out, dimColor.Sprintf("# in %s", command.Dir))

			return nil
		},
	}
}

func (a *app) newConfigCommand() *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "config [FILE]",
		Short: "Print the effective configuration for FILE, or for the project",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			file := ""
			if len(args) == 1 {
				file = args[0]
			}

			cfg, _, err := a.resolve(file)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			switch format {
			case "json":
				encoder := json.NewEncoder(out)
				encoder.SetIndent("", "  ")
				return encoder.Encode(cfg)
			case "yaml":
				encoder := yaml.NewEncoder(out)
				encoder.SetIndent(2)
				if err := encoder.Encode(cfg); err != nil {
					return err
				}
				return encoder.Close()
			default:
				return fmt.Errorf("unknown format %q: expected yaml or json", format)
			}
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", "yaml", "Output format (yaml|json)")

	return cmd
}

// shellQuote renders args as a line that can be pasted into a POSIX shell.
func shellQuote(args []string) (string, error) {
	quoted := make([]string, 0, len(args))
	for _, arg := range args {
		q, err := syntax.Quote(arg, syntax.LangBash)
		if err != nil {
			return "", fmt.Errorf("cannot quote %q: %w", arg, err)
		}
		quoted = append(quoted, q)
	}

	return strings.Join(quoted, " "), nil
}
