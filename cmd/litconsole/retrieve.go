package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/helixir/literature-console/internal/console"
	"github.com/helixir/literature-console/internal/conversion"
	"github.com/helixir/literature-console/internal/domain"
	"github.com/helixir/literature-console/internal/gate"
	"github.com/helixir/literature-console/internal/panel"
)

var searchCmd = &cobra.Command{
	Use:   "search QUERY",
	Short: "Search the retriever for publications",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		req := panel.SearchRequest{Query: strings.Join(args, " ")}
		req.Sort, _ = cmd.Flags().GetString("sort")
		if cmd.Flags().Changed("offset") {
			offset, _ := cmd.Flags().GetInt("offset")
			req.Offset = &offset
		}
		return retrieve(cmd, func(ctx context.Context, p *panel.RetrieverPanel) (gate.Ticket, error) {
			return p.Search(ctx, req)
		})
	},
}

var pageCmd = &cobra.Command{
	Use:   "page N",
	Short: "Fetch result page N of the current search",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		page, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("page must be an integer: %q", args[0])
		}
		return retrieve(cmd, func(ctx context.Context, p *panel.RetrieverPanel) (gate.Ticket, error) {
			return p.SelectPage(ctx, page)
		})
	},
}

var importOpenAlexCmd = &cobra.Command{
	Use:   "import-openalex PATH",
	Short: "Convert a local OpenAlex JSON export into records",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return retrieveFile(cmd, args[0], (*panel.RetrieverPanel).ImportOpenAlex)
	},
}

var importRISCmd = &cobra.Command{
	Use:   "import-ris PATH",
	Short: "Convert a local RIS file into records",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return retrieveFile(cmd, args[0], (*panel.RetrieverPanel).ImportRIS)
	},
}

var filterTitleCmd = &cobra.Command{
	Use:   "filter-title PATH",
	Short: "Search for the title of the record stored in PATH",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		record, err := readRecord(args[0])
		if err != nil {
			return err
		}
		return retrieve(cmd, func(ctx context.Context, p *panel.RetrieverPanel) (gate.Ticket, error) {
			return p.FilterByTitle(ctx, record)
		})
	},
}

var exportRISCmd = &cobra.Command{
	Use:   "export-ris PATH",
	Short: "Convert the record stored in PATH to RIS",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		record, err := readRecord(args[0])
		if err != nil {
			return err
		}
		out, _ := cmd.Flags().GetString("out")

		return runConsole(cmd, func(ctx context.Context, c *console.Console) error {
			states, stop := c.Retriever.Watch()
			defer stop()

			if err := c.Retriever.ExportRIS(ctx, record); err != nil {
				return err
			}
			for {
				select {
				case s, ok := <-states:
					if !ok {
						return domain.ErrSessionClosed
					}
					if s.PendingExports > 0 || s.LastArtifact == nil {
						continue
					}
					artifact, err := c.Artifacts.Take(s.LastArtifact.Name)
					if err != nil {
						return err
					}
					return writeArtifact(cmd, out, artifact)
				case <-ctx.Done():
					// The retriever has no error event for RIS conversion.
					return fmt.Errorf("waiting for RIS export: %w", domain.ErrTimeout)
				}
			}
		})
	},
}

func retrieve(cmd *cobra.Command, issue func(context.Context, *panel.RetrieverPanel) (gate.Ticket, error)) error {
	return runConsole(cmd, func(ctx context.Context, c *console.Console) error {
		state, err := awaitSettled(ctx, c.Retriever.Watch,
			func(s panel.RetrieverState) bool { return s.Loading },
			func() (gate.Ticket, error) { return issue(ctx, c.Retriever) },
		)
		if err != nil {
			if local := c.Retriever.State(); local.Error != "" {
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

func retrieveFile(cmd *cobra.Command, path string, issue func(*panel.RetrieverPanel, context.Context, io.Reader) (gate.Ticket, error)) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open document: %w", err)
	}
	defer f.Close()

	return retrieve(cmd, func(ctx context.Context, p *panel.RetrieverPanel) (gate.Ticket, error) {
		return issue(p, ctx, f)
	})
}

func readRecord(path string) (domain.Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read record: %w", err)
	}
	var record domain.Record
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, domain.NewValidationError("record", conversion.InvalidJSONMessage)
	}
	if record == nil {
		return nil, errors.New("record is empty")
	}
	return record, nil
}

func writeArtifact(cmd *cobra.Command, out string, artifact conversion.Artifact) error {
	if out == "-" {
		_, err := cmd.OutOrStdout().Write(artifact.Data)
		return err
	}
	if out == "" {
		out = artifact.Name
	}
	if err := os.WriteFile(out, artifact.Data, 0o644); err != nil {
		return fmt.Errorf("write artifact: %w", err)
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "wrote %s (%d bytes)\n", out, len(artifact.Data))
	return nil
}

func init() {
	searchCmd.Flags().String("sort", "", "sort order understood by the retriever")
	searchCmd.Flags().Int("offset", 0, "result offset")
	exportRISCmd.Flags().String("out", "", "output file, - for stdout (default: publication.ris)")

	rootCmd.AddCommand(searchCmd)
	rootCmd.AddCommand(pageCmd)
	rootCmd.AddCommand(importOpenAlexCmd)
	rootCmd.AddCommand(importRISCmd)
	rootCmd.AddCommand(filterTitleCmd)
	rootCmd.AddCommand(exportRISCmd)
}
