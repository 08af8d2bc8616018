package migration

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
)

// CLI 为 `casegate migrate` 子命令提供格式化输出
type CLI struct {
	migrator Migrator
	output   io.Writer
}

// NewCLI creates a new CLI instance
func NewCLI(migrator Migrator) *CLI {
	return &CLI{migrator: migrator, output: os.Stdout}
}

// SetOutput sets the output writer for CLI messages
func (c *CLI) SetOutput(w io.Writer) {
	c.output = w
}

// apply 执行迁移动作并打印最终版本
func (c *CLI) apply(ctx context.Context, banner string, fn func(context.Context) error) error {
	fmt.Fprintln(c.output, banner)
	if err := fn(ctx); err != nil {
		return err
	}
	version, dirty, err := c.migrator.Version(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.output, "Schema version: %d%s\n", version, dirtySuffix(dirty))
	return nil
}

// RunUp runs all pending migrations
func (c *CLI) RunUp(ctx context.Context) error {
	return c.apply(ctx, "Applying case store migrations...", c.migrator.Up)
}

// RunDown rolls back the last migration
func (c *CLI) RunDown(ctx context.Context) error {
	return c.apply(ctx, "Rolling back last migration...", c.migrator.Down)
}

// RunDownAll rolls back all migrations; task_records and task_events are dropped
func (c *CLI) RunDownAll(ctx context.Context) error {
	return c.apply(ctx, "Rolling back all migrations...", c.migrator.DownAll)
}

// RunSteps applies (n>0) or rolls back (n<0) migrations
func (c *CLI) RunSteps(ctx context.Context, n int) error {
	banner := fmt.Sprintf("Applying %d migration(s)...", n)
	if n < 0 {
		banner = fmt.Sprintf("Rolling back %d migration(s)...", -n)
	}
	return c.apply(ctx, banner, func(ctx context.Context) error { return c.migrator.Steps(ctx, n) })
}

// RunGoto migrates to a specific version
func (c *CLI) RunGoto(ctx context.Context, version uint) error {
	return c.apply(ctx, fmt.Sprintf("Migrating to version %d...", version),
		func(ctx context.Context) error { return c.migrator.Goto(ctx, version) })
}

// RunForce forces the migration version
func (c *CLI) RunForce(ctx context.Context, version int) error {
	return c.apply(ctx, fmt.Sprintf("Forcing version to %d...", version),
		func(ctx context.Context) error { return c.migrator.Force(ctx, version) })
}

// RunVersion shows the current migration version
func (c *CLI) RunVersion(ctx context.Context) error {
	version, dirty, err := c.migrator.Version(ctx)
	if err != nil {
		return err
	}
	if version == 0 {
		fmt.Fprintln(c.output, "No migrations applied yet.")
		return nil
	}
	fmt.Fprintf(c.output, "Current version: %d%s\n", version, dirtySuffix(dirty))
	return nil
}

// RunStatus prints one line per embedded migration plus a summary
func (c *CLI) RunStatus(ctx context.Context) error {
	statuses, err := c.migrator.Status(ctx)
	if err != nil {
		return fmt.Errorf("failed to get status: %w", err)
	}
	if len(statuses) == 0 {
		fmt.Fprintln(c.output, "No migrations found.")
		return nil
	}

	w := tabwriter.NewWriter(c.output, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "VERSION\tNAME\tSTATUS")
	applied := 0
	for _, s := range statuses {
		state := "pending"
		switch {
		case s.Dirty:
			state = "dirty"
		case s.Applied:
			state = "applied"
		}
		if s.Applied {
			applied++
		}
		fmt.Fprintf(w, "%06d\t%s\t%s\n", s.Version, s.Name, state)
	}
	if err := w.Flush(); err != nil {
		return err
	}

	fmt.Fprintf(c.output, "\nTotal: %d, Applied: %d, Pending: %d\n", len(statuses), applied, len(statuses)-applied)
	return nil
}

func dirtySuffix(dirty bool) string {
	if dirty {
		return " (dirty)"
	}
	return ""
}
