package cmd

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/lingorelay/lingorelay/cmd/util"
	"github.com/lingorelay/lingorelay/pkg/storage/sqlite"
)

const (
	versionFlag          = "version"
	timeoutFlag          = "timeout"
	verboseMigrationFlag = "verbose"
)

// NewMigrateCommand returns the command to perform database migrations.
func NewMigrateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database schema migrations needed for the LingoRelay server",
		Long:  `The migrate command is used to migrate the database schema needed for LingoRelay.`,
		RunE:  runMigration,
		Args:  cobra.NoArgs,
	}

	flags := cmd.Flags()

	flags.String(datastoreEngineFlag, "", "(required) the datastore engine that will be used for persistence")
	flags.String(datastoreURIFlag, "", "(required) the connection uri of the database to run the migrations against (e.g. 'file:translations.db')")
	flags.Uint(versionFlag, 0, "the version to migrate to (if omitted the latest schema will be used)")
	flags.Duration(timeoutFlag, 1*time.Minute, "a timeout for the time it takes the migrate process to connect to the database")
	flags.Bool(verboseMigrationFlag, false, "enable verbose migration logs (default false)")

	cmd.PreRun = bindMigrateFlags

	return cmd
}

// bindMigrateFlags binds the cobra cmd flags to the equivalent config value being
// managed by viper. This bridges the config between cobra flags and viper flags.
func bindMigrateFlags(command *cobra.Command, _ []string) {
	flags := command.Flags()

	util.MustBindPFlag(datastoreEngineFlag, flags.Lookup(datastoreEngineFlag))
	util.MustBindPFlag(datastoreURIFlag, flags.Lookup(datastoreURIFlag))
	util.MustBindPFlag(versionFlag, flags.Lookup(versionFlag))
	util.MustBindPFlag(timeoutFlag, flags.Lookup(timeoutFlag))
	util.MustBindPFlag(verboseMigrationFlag, flags.Lookup(verboseMigrationFlag))
}

func runMigration(cmd *cobra.Command, _ []string) error {
	engine := viper.GetString(datastoreEngineFlag)
	uri := viper.GetString(datastoreURIFlag)
	targetVersion := viper.GetInt64(versionFlag)
	timeout := viper.GetDuration(timeoutFlag)
	verbose := viper.GetBool(verboseMigrationFlag)

	switch engine {
	case "memory":
		log.Println("no migrations to run for `memory` datastore")
		return nil
	case "sqlite":
		if uri == "" {
			return fmt.Errorf("missing datastore uri")
		}
	case "":
		return fmt.Errorf("missing datastore engine type")
	default:
		return fmt.Errorf("unknown datastore engine type: %s", engine)
	}

	ctx := cmd.Context()
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	return sqlite.RunMigrations(ctx, sqlite.MigrationConfig{
		URI:           uri,
		TargetVersion: targetVersion,
		Verbose:       verbose,
	})
}
