package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/BaSui01/casegate/internal/migration"
)

// =============================================================================
// Database Migration Commands
// =============================================================================

type migrateOptions struct {
	*rootOptions
	dbType string
	dbURL  string
}

func newMigrateCmd(root *rootOptions) *cobra.Command {
	opts := &migrateOptions{rootOptions: root}
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the SQL schema for task_records and task_events",
		Long: `Apply or roll back the embedded schema migrations.

The database comes from the config file unless both --db-type and --db-url are
given. Supported types: postgres, mysql, sqlite.`,
		Example: `  casegate migrate up
  casegate migrate up --config /etc/casegate/config.yaml
  casegate migrate down --all
  casegate migrate status --db-type sqlite --db-url ./data/casegate.db
  casegate migrate force 1`,
	}
	cmd.PersistentFlags().StringVar(&opts.dbType, "db-type", "", "Database type (postgres, mysql, sqlite)")
	cmd.PersistentFlags().StringVar(&opts.dbURL, "db-url", "", "Database connection URL")

	var all bool
	down := &cobra.Command{
		Use:   "down",
		Short: "Roll back the last migration (or all with --all)",
		Args:  cobra.NoArgs,
		RunE: opts.run(func(ctx context.Context, cli *migration.CLI, _ []string) error {
			if all {
				return cli.RunDownAll(ctx)
			}
			return cli.RunDown(ctx)
		}),
	}
	down.Flags().BoolVar(&all, "all", false, "Roll back all migrations")

	cmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply all pending migrations",
			Args:  cobra.NoArgs,
			RunE: opts.run(func(ctx context.Context, cli *migration.CLI, _ []string) error {
				return cli.RunUp(ctx)
			}),
		},
		down,
		&cobra.Command{
			Use:   "steps <n>",
			Short: "Apply n migrations (negative rolls back)",
			Args:  cobra.ExactArgs(1),
			RunE: opts.run(func(ctx context.Context, cli *migration.CLI, args []string) error {
				n, err := strconv.Atoi(args[0])
				if err != nil {
					return fmt.Errorf("invalid step count %q: %w", args[0], err)
				}
				return cli.RunSteps(ctx, n)
			}),
		},
		&cobra.Command{
			Use:   "goto <version>",
			Short: "Migrate up or down to a specific version",
			Args:  cobra.ExactArgs(1),
			RunE: opts.run(func(ctx context.Context, cli *migration.CLI, args []string) error {
				v, err := strconv.ParseUint(args[0], 10, 32)
				if err != nil {
					return fmt.Errorf("invalid version %q: %w", args[0], err)
				}
				return cli.RunGoto(ctx, uint(v))
			}),
		},
		&cobra.Command{
			Use:   "force <version>",
			Short: "Set the schema version without running migrations (clears dirty state)",
			Args:  cobra.ExactArgs(1),
			RunE: opts.run(func(ctx context.Context, cli *migration.CLI, args []string) error {
				v, err := strconv.Atoi(args[0])
				if err != nil {
					return fmt.Errorf("invalid version %q: %w", args[0], err)
				}
				return cli.RunForce(ctx, v)
			}),
		},
		&cobra.Command{
			Use:   "version",
			Short: "Show the current schema version",
			Args:  cobra.NoArgs,
			RunE: opts.run(func(ctx context.Context, cli *migration.CLI, _ []string) error {
				return cli.RunVersion(ctx)
			}),
		},
		&cobra.Command{
			Use:   "status",
			Short: "List migrations and whether each is applied",
			Args:  cobra.NoArgs,
			RunE: opts.run(func(ctx context.Context, cli *migration.CLI, _ []string) error {
				return cli.RunStatus(ctx)
			}),
		},
	)
	return cmd
}

// run 创建 migrator 并在结束后关闭
func (o *migrateOptions) run(fn func(ctx context.Context, cli *migration.CLI, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		m, err := o.newMigrator()
		if err != nil {
			return fmt.Errorf("failed to create migrator: %w", err)
		}
		defer func() { _ = m.Close() }()

		cli := migration.NewCLI(m)
		cli.SetOutput(cmd.OutOrStdout())
		return fn(cmd.Context(), cli, args)
	}
}

func (o *migrateOptions) newMigrator() (*migration.DefaultMigrator, error) {
	logger := zap.NewNop()

	if o.dbType != "" && o.dbURL != "" {
		return migration.NewMigratorFromURL(o.dbType, o.dbURL, logger)
	}

	cfg, err := loadConfig(o.configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if o.dbType != "" {
		cfg.Database.Driver = o.dbType
	}
	logger = initLogger(cfg.Log)
	return migration.NewMigratorFromConfig(cfg, logger)
}
