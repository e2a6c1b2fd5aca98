package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/helixir/literature-console/internal/console"
	"github.com/helixir/literature-console/internal/conversion"
	"github.com/helixir/literature-console/internal/domain"
	"github.com/helixir/literature-console/internal/gate"
	"github.com/helixir/literature-console/internal/panel"
)

// datasetLabel is one output line of classify-dataset.
type datasetLabel struct {
	DOI        string               `json:"DOI"`
	Outcome    domain.OutcomeStatus `json:"outcome"`
	Categories map[string][]string  `json:"categories,omitempty"`
	Error      string               `json:"error,omitempty"`
}

var classifyDatasetCmd = &cobra.Command{
	Use:   "classify-dataset PATH",
	Short: "Label every record of a JSON dataset, one request at a time",
	Long: `classify-dataset reads a JSON array of bibliographic records and sends
each one for dataset classification, waiting up to --wait for every result.
Each label is printed as one JSON line. Records without a DOI are skipped.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		records, err := readDataset(args[0])
		if err != nil {
			return err
		}

		return withConsole(cmd, func(ctx context.Context, c *console.Console) error {
			out := json.NewEncoder(cmd.OutOrStdout())
			failed := 0
			for _, record := range records {
				if record.DOI() == "" {
					fmt.Fprintln(cmd.ErrOrStderr(), "skipping record without DOI")
					continue
				}

				label, err := labelRecord(ctx, c.Classifier, record)
				if err != nil {
					return fmt.Errorf("classify %s: %w", record.DOI(), err)
				}
				if label.Outcome == domain.OutcomeFailure {
					failed++
				}
				if err := out.Encode(label); err != nil {
					return err
				}
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d records failed", failed, len(records))
			}
			return nil
		})
	},
}

func labelRecord(ctx context.Context, p *panel.ClassifierPanel, record domain.Record) (datasetLabel, error) {
	ctx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()

	state, err := awaitSettled(ctx, p.Watch,
		func(s panel.ClassifierState) bool { return s.Loading },
		func() (gate.Ticket, error) { return p.ClassifyDataset(ctx, record) },
	)
	if err != nil {
		return datasetLabel{}, err
	}
	return newDatasetLabel(state, record.DOI()), nil
}

func newDatasetLabel(state panel.ClassifierState, doi string) datasetLabel {
	label := datasetLabel{DOI: state.DOI, Outcome: state.Outcome, Error: state.Error}
	if label.DOI == "" {
		label.DOI = doi
	}
	if state.Outcome == domain.OutcomeSuccess {
		label.Categories = make(map[string][]string, len(state.Categories))
		for _, cv := range state.Categories {
			if cv.Error == "" {
				label.Categories[cv.Key] = cv.Values
			}
		}
	}
	return label
}

func readDataset(path string) ([]domain.Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read dataset: %w", err)
	}
	var records []domain.Record
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, domain.NewValidationError("dataset", conversion.InvalidJSONMessage)
	}
	if len(records) == 0 {
		return nil, errors.New("dataset is empty")
	}
	return records, nil
}

func init() {
	rootCmd.AddCommand(classifyDatasetCmd)
}
