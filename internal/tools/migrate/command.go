package migrate

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"github.com/nikolaospapagiannis/OpenMeet-sub007/internal/config"
	"github.com/nikolaospapagiannis/OpenMeet-sub007/internal/database"
	"github.com/nikolaospapagiannis/OpenMeet-sub007/internal/domain"
	"github.com/nikolaospapagiannis/OpenMeet-sub007/internal/tools/common"
	"github.com/nikolaospapagiannis/OpenMeet-sub007/internal/tools/ui"
)

type options struct {
	envFile string
	ci      bool
	timeout time.Duration
}

// managedModels is the schema this service owns. Keep it in sync with
// database.Migrate.
var managedModels = []struct {
	table string
	model any
}{
	{"session_geo_records", &domain.SessionGeoRecord{}},
}

func NewRootCommand() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:           "migrate",
		Short:         "Manage the telemetry database schema",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.envFile, "env-file", ".env", "env file to load before reading configuration")
	root.PersistentFlags().BoolVar(&opts.ci, "ci", false, "print a JSON result instead of the interactive UI")
	root.PersistentFlags().DurationVar(&opts.timeout, "timeout", 30*time.Second, "per-command timeout")

	root.AddCommand(newUpCommand(opts), newStatusCommand(opts), newPlanCommand(opts))
	return root
}

func newUpCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "up",
		Short: "Apply pending schema changes",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := run(opts, "migrate up", "schema migration", func(ctx context.Context) ([]string, error) {
				_, db, err := loadConfigDB(opts.envFile)
				if err != nil {
					return nil, err
				}
				if err := database.Migrate(db.WithContext(ctx)); err != nil {
					return nil, err
				}
				details := make([]string, 0, len(managedModels))
				for _, m := range managedModels {
					details = append(details, m.table+" ensured")
				}
				return details, nil
			})
			return err
		},
	}
}

func newStatusCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Report which managed tables exist",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := run(opts, "migrate status", "schema inspection", func(ctx context.Context) ([]string, error) {
				_, db, err := loadConfigDB(opts.envFile)
				if err != nil {
					return nil, err
				}
				migrator := db.WithContext(ctx).Migrator()
				details := make([]string, 0, len(managedModels))
				missing := 0
				for _, m := range managedModels {
					state := "present"
					if !migrator.HasTable(m.model) {
						state = "missing"
						missing++
					}
					details = append(details, fmt.Sprintf("%s: %s", m.table, state))
				}
				if missing > 0 {
					return details, fmt.Errorf("%d managed table(s) missing, run migrate up", missing)
				}
				return details, nil
			})
			return err
		},
	}
}

func newPlanCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "plan",
		Short: "Show what up would change without applying it",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := run(opts, "migrate plan", "schema inspection", func(ctx context.Context) ([]string, error) {
				_, db, err := loadConfigDB(opts.envFile)
				if err != nil {
					return nil, err
				}
				migrator := db.WithContext(ctx).Migrator()
				details := make([]string, 0, len(managedModels))
				for _, m := range managedModels {
					if migrator.HasTable(m.model) {
						details = append(details, "no change for "+m.table)
					} else {
						details = append(details, "create table "+m.table)
					}
				}
				return details, nil
			})
			return err
		},
	}
}

func run(opts *options, title, status string, fn func(context.Context) ([]string, error)) ([]string, error) {
	action := func(ctx context.Context) ([]string, error) {
		if opts.timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, opts.timeout)
			defer cancel()
		}
		return fn(ctx)
	}
	if opts.ci {
		details, err := action(context.Background())
		common.PrintCIResult(err == nil, title, details, err)
		return details, err
	}
	return ui.Run(title, status, action)
}

func loadConfigDB(envFile string) (*config.Config, *gorm.DB, error) {
	if err := common.LoadEnvFile(envFile); err != nil {
		return nil, nil, err
	}
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	db, err := database.Open(cfg)
	if err != nil {
		return nil, nil, err
	}
	return cfg, db, nil
}
