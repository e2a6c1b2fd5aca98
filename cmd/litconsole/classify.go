package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/helixir/literature-console/internal/console"
	"github.com/helixir/literature-console/internal/gate"
	"github.com/helixir/literature-console/internal/panel"
)

var classifyCmd = &cobra.Command{
	Use:   "classify TEXT",
	Short: "Classify free text into the category set",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		text := strings.Join(args, " ")
		return classify(cmd, func(ctx context.Context, p *panel.ClassifierPanel) (gate.Ticket, error) {
			return p.ClassifyText(ctx, text)
		})
	},
}

var classifyFileCmd = &cobra.Command{
	Use:   "classify-file PATH",
	Short: "Classify a local JSON document",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := os.Open(args[0])
		if err != nil {
			return fmt.Errorf("open document: %w", err)
		}
		defer f.Close()

		return classify(cmd, func(ctx context.Context, p *panel.ClassifierPanel) (gate.Ticket, error) {
			return p.ClassifyJSON(ctx, f)
		})
	},
}

func classify(cmd *cobra.Command, issue func(context.Context, *panel.ClassifierPanel) (gate.Ticket, error)) error {
	return runConsole(cmd, func(ctx context.Context, c *console.Console) error {
		state, err := awaitSettled(ctx, c.Classifier.Watch,
			func(s panel.ClassifierState) bool { return s.Loading },
			func() (gate.Ticket, error) { return issue(ctx, c.Classifier) },
		)
		if err != nil {
			// Local document failures are recorded in the panel state.
			if local := c.Classifier.State(); local.Error != "" {
				_ = printJSON(cmd, local)
			}
			return err
		}
		if err := printJSON(cmd, state); err != nil {
			return err
		}
		return outcomeError(state.Outcome, state.Error)
	})
}

func init() {
	rootCmd.AddCommand(classifyCmd)
	rootCmd.AddCommand(classifyFileCmd)
}
