package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/BaSui01/casegate"
	"github.com/BaSui01/casegate/casestore"
	"github.com/BaSui01/casegate/config"
	"github.com/BaSui01/casegate/dispatcher"
	"github.com/BaSui01/casegate/types"
)

// =============================================================================
// 🎬 simulate 命令：在内存仓储上回放一次完整通话
// =============================================================================

type simulateOptions struct {
	identity string
	answer   string
	confirm  bool
	verbose  bool
}

func newSimulateCmd(_ *rootOptions) *cobra.Command {
	opts := &simulateOptions{}
	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Replay a verification call against a fresh in-memory store",
		Long: `simulate opens one session over the three sample cases and runs
load_task, get_challenge, submit_verification, reveal_sensitive_details and
record_resolution in order, printing each result and the final record state.`,
		Example: `  casegate simulate
  casegate simulate --identity Sarah --answer Rex
  casegate simulate --identity Mike --answer Chicago --confirm`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runSimulation(cmd, opts)
		},
	}
	cmd.Flags().StringVar(&opts.identity, "identity", "John", "Identity the subject gives")
	cmd.Flags().StringVar(&opts.answer, "answer", "Smith", "Answer to the challenge question")
	cmd.Flags().BoolVar(&opts.confirm, "confirm", false, "Subject confirms the transaction as their own")
	cmd.Flags().BoolVarP(&opts.verbose, "verbose", "v", false, "Log dispatcher activity to stderr")
	return cmd
}

func runSimulation(cmd *cobra.Command, opts *simulateOptions) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	cfg := config.DefaultConfig()
	cfg.Store.Type = string(casestore.StoreTypeMemory)
	cfg.Store.Seed = true

	logger := zap.NewNop()
	if opts.verbose {
		logger = initLogger(config.LogConfig{Level: "debug", Format: "console", OutputPaths: []string{"stderr"}})
	}

	eng, err := casegate.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() { _ = eng.Close(ctx) }()

	s, err := eng.Sessions.Open()
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "session %s\n\n", s.ID())

	steps := []types.ToolCall{
		toolCall("load_task", map[string]any{"identity": opts.identity}),
		toolCall("get_challenge", nil),
		toolCall("submit_verification", map[string]any{"answer": opts.answer}),
		toolCall("reveal_sensitive_details", nil),
		toolCall("record_resolution", map[string]any{"confirmed": opts.confirm}),
	}
	for _, call := range steps {
		res, tr := eng.Tools.Invoke(ctx, s, call)
		if tr.IsError() {
			return tr.Error
		}
		printStep(out, call, res)
	}

	snap := s.Snapshot()
	fmt.Fprintf(out, "\nstage=%s verified=%t complete=%t\n", snap.Stage, snap.Verified, snap.Complete)
	if snap.TaskID == "" {
		return nil
	}
	rec, err := eng.Repo.Get(ctx, snap.TaskID)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "record %s status=%s\n", rec.ID, rec.Status)
	return nil
}

func toolCall(name string, args map[string]any) types.ToolCall {
	call := types.ToolCall{ID: name, Name: name}
	if args != nil {
		// map[string]any 的编码不会失败
		call.Arguments, _ = json.Marshal(args)
	}
	return call
}

func printStep(out io.Writer, call types.ToolCall, res dispatcher.Result) {
	args := string(call.Arguments)
	if args == "" {
		args = "{}"
	}
	fmt.Fprintf(out, "> %s %s\n", call.Name, args)
	status := string(res.Status)
	if res.Code != "" {
		status += " " + string(res.Code)
	}
	fmt.Fprintf(out, "< [%s] %s\n", status, res.Message)
}
