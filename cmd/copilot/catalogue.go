package main

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/bytedance/sonic"
	"github.com/spf13/cobra"
)

const (
	outputFlagName     = "output"
	outputFlagValJSON  = "json"
	outputFlagValHuman = "human"
)

func init() {
	rootCmd.AddCommand(toolsCmd)
	toolsCmd.Flags().String(outputFlagName, outputFlagValHuman, "Specify the output format: json,human")
}

var toolsCmd = &cobra.Command{
	Use:   "tools",
	Short: "Print the agent tool catalogue",
	RunE: func(cmd *cobra.Command, _ []string) error {
		output, err := cmd.Flags().GetString(outputFlagName)
		if err != nil {
			return err
		}
		if err := initializeSystem(); err != nil {
			return err
		}
		ctx := cmd.Context()
		cfg, err := loadConfig(ctx, cmd)
		if err != nil {
			return err
		}
		defs := newApp(ctx, cfg).catalog.Definitions()

		switch output {
		case outputFlagValJSON:
			b, err := sonic.ConfigStd.MarshalIndent(map[string]any{"tools": defs}, "", "  ")
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(os.Stdout, string(b))
			return err
		case outputFlagValHuman:
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tTITLE\tHINTS")
			for _, d := range defs {
				var hints []string
				if d.Annotations != nil {
					if d.Annotations.ReadOnlyHint {
						hints = append(hints, "read-only")
					}
					if d.Annotations.DestructiveHint {
						hints = append(hints, "destructive")
					}
					if d.Annotations.OpenWorldHint {
						hints = append(hints, "open-world")
					}
				}
				title := ""
				if d.Annotations != nil {
					title = d.Annotations.Title
				}
				fmt.Fprintf(w, "%s\t%s\t%s\n", d.Name, title, strings.Join(hints, ","))
			}
			return w.Flush()
		default:
			return fmt.Errorf("%s flag must be either %q or %q", outputFlagName, outputFlagValHuman, outputFlagValJSON)
		}
	},
}
