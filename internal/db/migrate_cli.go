package db

import (
	"fmt"
	"io"
	"io/fs"
	"strconv"
)

// RunMigrateCommand handles the 'migrate' subcommand. It returns an error
// instead of exiting so the caller owns the process exit code.
func RunMigrateCommand(args []string, dbPath string, out io.Writer) error {
	if len(args) < 1 {
		PrintMigrateHelp(out)
		return fmt.Errorf("missing migrate action")
	}

	action := args[0]
	if action == "help" {
		PrintMigrateHelp(out)
		return nil
	}

	migrationsFS, err := getMigrationsFS()
	if err != nil {
		return fmt.Errorf("failed to get migrations filesystem: %w", err)
	}

	// Open without migrating; the action decides what happens to the schema.
	database, err := OpenDB(dbPath)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer database.Close()

	switch action {
	case "up":
		return handleMigrateUp(database, migrationsFS, out)
	case "down":
		return handleMigrateDown(database, migrationsFS, out)
	case "status":
		return handleMigrateStatus(database, migrationsFS, out)
	case "version":
		if len(args) < 2 {
			return fmt.Errorf("usage: impact migrate version <version_number>")
		}
		return handleMigrateVersion(database, migrationsFS, args[1], out)
	case "force":
		if len(args) < 2 {
			return fmt.Errorf("usage: impact migrate force <version_number>")
		}
		return handleMigrateForce(database, migrationsFS, args[1], out)
	default:
		fmt.Fprintf(out, "Unknown migrate action: %s\n\n", action)
		PrintMigrateHelp(out)
		return fmt.Errorf("unknown migrate action %q", action)
	}
}

func printVersion(database *DB, migrationsFS fs.FS, out io.Writer) {
	version, dirty, _ := database.MigrateVersion(migrationsFS)
	fmt.Fprintf(out, "Current version: %d (dirty: %v)\n", version, dirty)
}

func handleMigrateUp(database *DB, migrationsFS fs.FS, out io.Writer) error {
	if err := database.MigrateUp(migrationsFS); err != nil {
		return err
	}
	fmt.Fprintln(out, "✓ All migrations applied successfully")
	printVersion(database, migrationsFS, out)
	return nil
}

func handleMigrateDown(database *DB, migrationsFS fs.FS, out io.Writer) error {
	if err := database.MigrateDown(migrationsFS); err != nil {
		return err
	}
	fmt.Fprintln(out, "✓ Migration rolled back successfully")
	printVersion(database, migrationsFS, out)
	return nil
}

func handleMigrateStatus(database *DB, migrationsFS fs.FS, out io.Writer) error {
	status, err := database.GetMigrationStatus(migrationsFS)
	if err != nil {
		return err
	}

	fmt.Fprintln(out, "=== Migration Status ===")
	fmt.Fprintf(out, "Current version: %d\n", status["current_version"])
	fmt.Fprintf(out, "Latest available: %d\n", status["latest_version"])
	fmt.Fprintf(out, "Dirty: %v\n", status["dirty"])
	fmt.Fprintf(out, "Schema migrations table exists: %v\n", status["schema_migrations_exists"])

	if dirty, _ := status["dirty"].(bool); dirty {
		fmt.Fprintln(out, "\n⚠️  WARNING: Database is in a dirty state!")
		fmt.Fprintln(out, "A migration failed mid-execution. Inspect the database, then run:")
		fmt.Fprintln(out, "  impact migrate force <version>")
	}
	return nil
}

func handleMigrateVersion(database *DB, migrationsFS fs.FS, versionStr string, out io.Writer) error {
	target, err := strconv.ParseUint(versionStr, 10, 32)
	if err != nil {
		return fmt.Errorf("invalid version number: %s", versionStr)
	}
	if err := database.MigrateTo(migrationsFS, uint(target)); err != nil {
		return err
	}
	fmt.Fprintf(out, "✓ Migrated to version %d successfully\n", target)
	return nil
}

func handleMigrateForce(database *DB, migrationsFS fs.FS, versionStr string, out io.Writer) error {
	version, err := strconv.Atoi(versionStr)
	if err != nil {
		return fmt.Errorf("invalid version number: %s", versionStr)
	}
	if err := database.MigrateForce(migrationsFS, version); err != nil {
		return err
	}
	fmt.Fprintf(out, "✓ Migration version forced to %d\n", version)
	return nil
}

// PrintMigrateHelp writes usage for the migrate command.
func PrintMigrateHelp(out io.Writer) {
	fmt.Fprintln(out, "Database Migration Commands")
	fmt.Fprintln(out)
	fmt.Fprintln(out, "Usage: impact migrate <command> [options]")
	fmt.Fprintln(out)
	fmt.Fprintln(out, "Commands:")
	fmt.Fprintln(out, "  up              Apply all pending migrations")
	fmt.Fprintln(out, "  down            Rollback one migration")
	fmt.Fprintln(out, "  status          Show current migration status and version")
	fmt.Fprintln(out, "  version <N>     Migrate to specific version N")
	fmt.Fprintln(out, "  force <N>       Force migration version to N (recovery only)")
	fmt.Fprintln(out, "  help            Show this help message")
	fmt.Fprintln(out)
	fmt.Fprintln(out, "Options:")
	fmt.Fprintln(out, "  --db-path <path>    Path to database file (default: impact.db)")
	fmt.Fprintf(out, "  $%s       Use migration files from this directory instead of the embedded set\n", MigrationsDirEnv)
}
