package seed

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"github.com/nikolaospapagiannis/OpenMeet-sub007/internal/config"
	"github.com/nikolaospapagiannis/OpenMeet-sub007/internal/database"
	"github.com/nikolaospapagiannis/OpenMeet-sub007/internal/domain"
	"github.com/nikolaospapagiannis/OpenMeet-sub007/internal/repository"
	"github.com/nikolaospapagiannis/OpenMeet-sub007/internal/tools/common"
	"github.com/nikolaospapagiannis/OpenMeet-sub007/internal/tools/ui"
)

const demoOrganizationID = "org-demo"

type options struct {
	envFile string
	ci      bool
}

// demoSessions gives a fresh local stack something to render on the map
// without standing up a geo database first.
func demoSessions(now time.Time) []domain.SessionGeoRecord {
	return []domain.SessionGeoRecord{
		{SessionID: "demo-sess-sf", UserID: "demo-user-1", OrganizationID: demoOrganizationID, CountryCode: "US", Country: "United States", Region: "California", City: "San Francisco", Latitude: 37.7749, Longitude: -122.4194, Timestamp: now},
		{SessionID: "demo-sess-nyc", UserID: "demo-user-2", OrganizationID: demoOrganizationID, CountryCode: "US", Country: "United States", Region: "New York", City: "New York", Latitude: 40.7128, Longitude: -74.006, Timestamp: now},
		{SessionID: "demo-sess-ber", UserID: "demo-user-3", OrganizationID: demoOrganizationID, CountryCode: "DE", Country: "Germany", Region: "Berlin", City: "Berlin", Latitude: 52.52, Longitude: 13.405, Timestamp: now},
		{SessionID: "demo-sess-tok", UserID: "demo-user-4", OrganizationID: demoOrganizationID, CountryCode: "JP", Country: "Japan", Region: "Tokyo", City: "Tokyo", Latitude: 35.6762, Longitude: 139.6503, Timestamp: now},
		{SessionID: "demo-sess-unk", UserID: "demo-user-5", OrganizationID: demoOrganizationID, CountryCode: domain.UnknownCountryCode, Country: "Unknown", Timestamp: now},
	}
}

func NewRootCommand() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:           "seed",
		Short:         "Seed demo telemetry data for local development",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.envFile, "env-file", ".env", "env file to load before reading configuration")
	root.PersistentFlags().BoolVar(&opts.ci, "ci", false, "print a JSON result instead of the interactive UI")

	root.AddCommand(newApplyCommand(opts), newDryRunCommand(opts), newPurgeOrgCommand(opts))
	return root
}

func newApplyCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "apply",
		Short: "Insert the demo session geo records",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := run(opts, "seed apply", "demo data insert", func(ctx context.Context) ([]string, error) {
				_, db, err := loadConfigDB(opts.envFile)
				if err != nil {
					return nil, err
				}
				repo := repository.NewSessionGeoRepository(db)
				records := demoSessions(time.Now().UTC())
				details := make([]string, 0, len(records))
				for i := range records {
					if err := repo.Upsert(ctx, &records[i]); err != nil {
						return details, fmt.Errorf("upsert %s: %w", records[i].SessionID, err)
					}
					details = append(details, fmt.Sprintf("%s -> %s/%s", records[i].SessionID, records[i].CountryCode, records[i].City))
				}
				return details, nil
			})
			return err
		},
	}
}

func newDryRunCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "dry-run",
		Short: "Show the demo records apply would insert",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := run(opts, "seed dry-run", "demo data preview", func(ctx context.Context) ([]string, error) {
				records := demoSessions(time.Now().UTC())
				details := make([]string, 0, len(records))
				for _, rec := range records {
					details = append(details, fmt.Sprintf("would upsert %s for %s (%s/%s)", rec.SessionID, rec.OrganizationID, rec.CountryCode, rec.City))
				}
				return details, nil
			})
			return err
		},
	}
}

func newPurgeOrgCommand(opts *options) *cobra.Command {
	var org string
	cmd := &cobra.Command{
		Use:   "purge-org",
		Short: "Delete every session geo record of one organization",
		RunE: func(cmd *cobra.Command, args []string) error {
			if org == "" {
				return fmt.Errorf("--org is required")
			}
			_, err := run(opts, "seed purge-org", "record purge", func(ctx context.Context) ([]string, error) {
				_, db, err := loadConfigDB(opts.envFile)
				if err != nil {
					return nil, err
				}
				res := db.WithContext(ctx).
					Where("organization_id = ?", org).
					Delete(&domain.SessionGeoRecord{})
				if res.Error != nil {
					return nil, res.Error
				}
				return []string{fmt.Sprintf("deleted %d record(s) for %s", res.RowsAffected, org)}, nil
			})
			return err
		},
	}
	cmd.Flags().StringVar(&org, "org", "", "organization id to purge")
	return cmd
}

func run(opts *options, title, status string, fn func(context.Context) ([]string, error)) ([]string, error) {
	if opts.ci {
		details, err := fn(context.Background())
		common.PrintCIResult(err == nil, title, details, err)
		return details, err
	}
	return ui.Run(title, status, fn)
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
