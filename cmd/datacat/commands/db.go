package commands

import (
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/datacat/am"
	"github.com/teranos/datacat/db"
	"github.com/teranos/datacat/errors"
	"github.com/teranos/datacat/logger"
)

// DbCmd represents the db (database) command
var DbCmd = &cobra.Command{
	Use:   "db",
	Short: "Manage the catalog database",
	Long: `Manage the catalog database.

Every command migrates the database on open; migrate does only that.

Examples:
  datacat db migrate                 # Apply pending migrations
  DATACAT_DATABASE_DSN=postgres://... datacat db migrate`,
}

var dbMigrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending schema migrations",
	Args:  cobra.NoArgs,
	RunE:  runDbMigrate,
}

func init() {
	DbCmd.AddCommand(dbMigrateCmd)
}

func runDbMigrate(cmd *cobra.Command, args []string) error {
	cfg, err := am.Load()
	if err != nil {
		return errors.Wrap(err, "failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		return errors.Wrap(err, "invalid configuration")
	}

	conn, err := db.Open(cfg.Database.Driver, cfg.Database.DSN, logger.Logger)
	if err != nil {
		return errors.Wrapf(err, "failed to open %s database", cfg.Database.Driver)
	}
	defer conn.Close()

	if err := db.Migrate(conn, logger.Logger); err != nil {
		return err
	}

	var version string
	if err := conn.QueryRowContext(cmd.Context(), "SELECT MAX(version) FROM schema_migrations").Scan(&version); err != nil {
		return errors.Wrap(err, "failed to read schema version")
	}
	pterm.Success.Printf("%s database at schema version %s\n", cfg.Database.Driver, version)
	return nil
}
