package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/BaSui01/casegate/casestore"
)

// =============================================================================
// 📁 cases 命令：仓储诊断
// =============================================================================

type casesOptions struct {
	*rootOptions
	jsonOutput bool
}

func newCasesCmd(root *rootOptions) *cobra.Command {
	opts := &casesOptions{rootOptions: root}
	cmd := &cobra.Command{
		Use:   "cases",
		Short: "Inspect and seed the case store configured in store.type",
	}
	cmd.PersistentFlags().BoolVar(&opts.jsonOutput, "json", false, "Output in JSON format")

	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List all records with expected answers redacted",
			Args:  cobra.NoArgs,
			RunE: opts.withRepo(func(ctx context.Context, out io.Writer, repo casestore.Repository, _ []string) error {
				records, err := repo.ListAll(ctx)
				if err != nil {
					return err
				}
				redacted := make([]*casestore.Record, 0, len(records))
				for _, rec := range records {
					redacted = append(redacted, rec.Redacted())
				}
				if opts.jsonOutput {
					return writeJSON(out, redacted)
				}
				return printRecords(out, redacted)
			}),
		},
		&cobra.Command{
			Use:   "seed",
			Short: "Insert the sample records when the store is empty",
			Args:  cobra.NoArgs,
			RunE: opts.withRepo(func(ctx context.Context, out io.Writer, repo casestore.Repository, _ []string) error {
				n, err := casestore.Seed(ctx, repo, casestore.SampleRecords(), nil)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "Seeded %d record(s)\n", n)
				return nil
			}),
		},
		&cobra.Command{
			Use:   "history <record-id>",
			Short: "Show the status transitions recorded for one record",
			Args:  cobra.ExactArgs(1),
			RunE: opts.withRepo(func(ctx context.Context, out io.Writer, repo casestore.Repository, args []string) error {
				events, err := repo.History(ctx, args[0])
				if err != nil {
					return err
				}
				if opts.jsonOutput {
					return writeJSON(out, events)
				}
				return printEvents(out, events)
			}),
		},
	)
	return cmd
}

// withRepo 按配置打开仓储，执行 fn 后关闭；不会自动写入示例数据
func (o *casesOptions) withRepo(fn func(ctx context.Context, out io.Writer, repo casestore.Repository, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(o.configPath)
		if err != nil {
			return err
		}
		logger := zap.NewNop()
		if cfg.Log.Level == "debug" {
			logger = initLogger(cfg.Log)
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
		defer cancel()

		repo, err := casestore.NewRepository(ctx, cfg.StoreConfig(), logger)
		if err != nil {
			return fmt.Errorf("open case store: %w", err)
		}
		defer func() { _ = repo.Close() }()

		return fn(ctx, cmd.OutOrStdout(), repo, args)
	}
}

func printRecords(out io.Writer, records []*casestore.Record) error {
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tIDENTITY\tSTATUS\tCHALLENGE\tUPDATED")
	for _, rec := range records {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			rec.ID, rec.IdentityKey, rec.Status, rec.Challenge, rec.UpdatedAt.Format(time.RFC3339))
	}
	return tw.Flush()
}

func printEvents(out io.Writer, events []*casestore.Event) error {
	if len(events) == 0 {
		fmt.Fprintln(out, "No transitions recorded")
		return nil
	}
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "AT\tFROM\tTO\tACTOR\tNOTE")
	for _, ev := range events {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			ev.At.Format(time.RFC3339), ev.From, ev.To, ev.Actor, ev.Note)
	}
	return tw.Flush()
}

func writeJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
