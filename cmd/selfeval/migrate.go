package main

import (
	"errors"
	"fmt"
	"io/fs"
	"strconv"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/banshee-data/selfeval/internal/db"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Manage the database schema",
}

var migrateUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply all pending migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withMigrations(func(store *db.DB, migrations fs.FS) error {
			if err := store.MigrateUp(migrations); err != nil {
				return err
			}
			return printVersion(cmd, store, migrations)
		})
	},
}

var migrateDownCmd = &cobra.Command{
	Use:   "down",
	Short: "Roll back the most recent migration",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withMigrations(func(store *db.DB, migrations fs.FS) error {
			if err := store.MigrateDown(migrations); err != nil {
				return err
			}
			return printVersion(cmd, store, migrations)
		})
	},
}

var migrateVersionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the current schema version",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withMigrations(func(store *db.DB, migrations fs.FS) error {
			return printVersion(cmd, store, migrations)
		})
	},
}

var migrateForceCmd = &cobra.Command{
	Use:   "force <version>",
	Short: "Mark the schema as being at version, clearing the dirty flag",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		v, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("invalid version %q", args[0])
		}
		return withMigrations(func(store *db.DB, migrations fs.FS) error {
			if err := store.MigrateForce(migrations, v); err != nil {
				return err
			}
			return printVersion(cmd, store, migrations)
		})
	},
}

func init() {
	migrateCmd.AddCommand(migrateUpCmd)
	migrateCmd.AddCommand(migrateDownCmd)
	migrateCmd.AddCommand(migrateVersionCmd)
	migrateCmd.AddCommand(migrateForceCmd)
	rootCmd.AddCommand(migrateCmd)
}

// withMigrations opens the database without migrating it.
func withMigrations(fn func(*db.DB, fs.FS) error) error {
	if dbPath == "" {
		return errors.New("--db is required")
	}
	store, err := db.OpenDB(dbPath)
	if err != nil {
		return err
	}
	defer store.Close()

	migrations, err := db.MigrationsFS()
	if err != nil {
		return err
	}
	return fn(store, migrations)
}

func printVersion(cmd *cobra.Command, store *db.DB, migrations fs.FS) error {
	v, dirty, err := store.MigrateVersion(migrations)
	if err != nil {
		return err
	}
	state := color.New(color.FgGreen).Sprint("clean")
	if dirty {
		state = color.New(color.FgRed, color.Bold).Sprint("dirty")
	}
	fmt.Fprintf(cmd.OutOrStdout(), "schema version %d (%s)\n", v, state)
	return nil
}
