package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/medsim/scenario/internal/config"
	"github.com/medsim/scenario/internal/platform/db"
	"github.com/medsim/scenario/migrations"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "scenario-server",
		Short:        "Scenario timeline engine for simulation authoring",
		SilenceUsage: true,
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(timelineCmd())
	rootCmd.AddCommand(vitalsCmd())
	return rootCmd
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}
}

// -- migrate --

func newMigrator(ctx context.Context, cmd *cobra.Command) (*db.Migrator, func(), error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	if err := requirePostgres(cfg); err != nil {
		return nil, nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}

	schema, _ := cmd.Flags().GetString("schema")
	if schema == "" {
		schema = cfg.DBSchema
	}
	if schema == "" {
		schema = "public"
	}
	dir, _ := cmd.Flags().GetString("dir")
	if dir == "" {
		dir = cfg.MigrationsDir
	}

	pool, err := openPool(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}

	var m *db.Migrator
	if dir != "" {
		m = db.NewMigrator(pool, dir)
	} else {
		m = db.NewMigratorFS(pool, migrations.FS)
	}
	if m, err = m.WithSchema(schema); err != nil {
		pool.Close()
		return nil, nil, err
	}
	return m, pool.Close, nil
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			m, closeFn, err := newMigrator(ctx, cmd)
			if err != nil {
				return err
			}
			defer closeFn()

			to, _ := cmd.Flags().GetInt("to")
			var count int
			if to > 0 {
				count, err = m.UpTo(ctx, to)
			} else {
				count, err = m.Up(ctx)
			}
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Applied %d migration(s) successfully.\n", count)
			return nil
		},
	}
	upCmd.Flags().Int("to", 0, "Stop after this migration version")

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			m, closeFn, err := newMigrator(ctx, cmd)
			if err != nil {
				return err
			}
			defer closeFn()

			statuses, err := m.Status(ctx)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}
			printStatus(cmd.OutOrStdout(), statuses)
			return nil
		},
	}

	for _, c := range []*cobra.Command{upCmd, statusCmd} {
		c.Flags().String("schema", "", "Target schema (default DB_SCHEMA or public)")
		c.Flags().String("dir", "", "Migrations directory (default MIGRATIONS_DIR or the embedded set)")
		cmd.AddCommand(c)
	}
	return cmd
}

func printStatus(w io.Writer, statuses []db.MigrationStatus) {
	fmt.Fprintf(w, "%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
	fmt.Fprintln(w, "---------- ---------------------------------------- ---------- --------------------")
	for _, s := range statuses {
		status := "pending"
		appliedAt := ""
		if s.Applied {
			status = "applied"
			if s.AppliedAt != nil {
				appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
			}
		}
		fmt.Fprintf(w, "%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
	}
}

// -- timeline --

func timelineCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "timeline",
		Short: "Export, import and check scenario timelines",
	}

	exportCmd := &cobra.Command{
		Use:   "export",
		Short: "Write a scenario timeline as an XLSX workbook",
		RunE: func(cmd *cobra.Command, args []string) error {
			scenarioID, _ := cmd.Flags().GetInt("scenario")
			out, _ := cmd.Flags().GetString("out")

			a, err := loadApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			w := cmd.OutOrStdout()
			if out != "-" {
				f, err := os.Create(out)
				if err != nil {
					return err
				}
				defer f.Close()
				w = f
			}
			if err := a.svc.ExportWorkbook(cmd.Context(), scenarioID, w); err != nil {
				return err
			}
			if out != "-" {
				fmt.Fprintf(cmd.ErrOrStderr(), "Exported scenario %d to %s\n", scenarioID, out)
			}
			return nil
		},
	}
	exportCmd.Flags().String("out", "-", "Output file, - for stdout")

	importCmd := &cobra.Command{
		Use:   "import",
		Short: "Replace a scenario timeline with the content of an XLSX workbook",
		RunE: func(cmd *cobra.Command, args []string) error {
			scenarioID, _ := cmd.Flags().GetInt("scenario")
			in, _ := cmd.Flags().GetString("in")
			if in == "" {
				return fmt.Errorf("--in is required")
			}

			f, err := os.Open(in)
			if err != nil {
				return err
			}
			defer f.Close()

			a, err := loadApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			wb, err := a.svc.ImportWorkbook(cmd.Context(), scenarioID, f)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Imported %d node(s) into scenario %d.\n", len(wb.Nodes), scenarioID)
			return nil
		},
	}
	importCmd.Flags().String("in", "", "Workbook to import")

	checkCmd := &cobra.Command{
		Use:   "check",
		Short: "List branch targets that name missing nodes",
		RunE: func(cmd *cobra.Command, args []string) error {
			scenarioID, _ := cmd.Flags().GetInt("scenario")

			a, err := loadApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			refs, err := a.svc.CheckConsistency(cmd.Context(), scenarioID)
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			if len(refs) == 0 {
				fmt.Fprintf(w, "Scenario %d is consistent.\n", scenarioID)
				return nil
			}
			for _, r := range refs {
				fmt.Fprintf(w, "node %d: %s -> %d (missing)\n", r.NodeID, r.Branch, r.Target)
			}
			return fmt.Errorf("%d dangling reference(s)", len(refs))
		},
	}

	for _, c := range []*cobra.Command{exportCmd, importCmd, checkCmd} {
		c.Flags().Int("scenario", 0, "Scenario id")
		c.MarkFlagRequired("scenario")
		cmd.AddCommand(c)
	}
	return cmd
}

// -- vitals --

func vitalsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "vitals",
		Short: "Edit vital signs",
	}

	applyCmd := &cobra.Command{
		Use:   "apply LABEL VALUE",
		Short: "Store one labelled value on the baseline or a node",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			scenarioID, _ := cmd.Flags().GetInt("scenario")
			var nodeID *int
			if cmd.Flags().Changed("node") {
				n, _ := cmd.Flags().GetInt("node")
				nodeID = &n
			}

			a, err := loadApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			out, err := a.resolver.Apply(cmd.Context(), scenarioID, nodeID, args[0], args[1])
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			if !out.Changed {
				fmt.Fprintf(w, "Nothing changed: node %d does not exist in scenario %d.\n", out.Target, scenarioID)
				return nil
			}
			where := fmt.Sprintf("node %d", out.Target)
			if out.Baseline {
				where = "baseline"
				if out.Mirrored {
					where += " and node 0"
				}
			}
			what := strings.TrimSpace(args[0])
			if out.Parameter != nil {
				what = "parameter " + out.Parameter.Name
			}
			fmt.Fprintf(w, "Stored %s on %s (%s).\n", what, where, out.Severity)
			return nil
		},
	}
	applyCmd.Flags().Int("scenario", 0, "Scenario id")
	applyCmd.Flags().Int("node", 0, "Node id (omit for the baseline)")
	applyCmd.MarkFlagRequired("scenario")
	cmd.AddCommand(applyCmd)
	return cmd
}
