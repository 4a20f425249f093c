package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"

	"site_watcher/migrations"
)

func main() {
	dbPath := flag.String("db", envOrDefault("DATABASE_PATH", "./data/watcher.db"), "path to sqlite database")
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		usage()
		os.Exit(1)
	}

	db, err := sql.Open("sqlite", *dbPath)
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	defer func() { _ = db.Close() }()

	provider, err := goose.NewProvider(goose.DialectSQLite3, db, migrations.FS)
	if err != nil {
		log.Fatalf("create provider: %v", err)
	}

	ctx := context.Background()
	cmd := args[0]
	switch cmd {
	case "up":
		err = printResults(provider.Up(ctx))
	case "up-one":
		var res *goose.MigrationResult
		res, err = provider.UpByOne(ctx)
		if err == nil {
			fmt.Println(res)
		}
	case "down":
		var res *goose.MigrationResult
		res, err = provider.Down(ctx)
		if err == nil {
			fmt.Println(res)
		}
	case "reset":
		err = printResults(provider.DownTo(ctx, 0))
	case "status":
		var statuses []*goose.MigrationStatus
		statuses, err = provider.Status(ctx)
		for _, st := range statuses {
			applied := "pending"
			if st.State == goose.StateApplied {
				applied = st.AppliedAt.Format("2006-01-02 15:04:05")
			}
			fmt.Printf("%-24s %s\n", applied, st.Source.Path)
		}
	case "version":
		var v int64
		v, err = provider.GetDBVersion(ctx)
		if err == nil {
			fmt.Printf("version %d\n", v)
		}
	default:
		log.Fatalf("unknown command: %s", cmd)
	}

	if err != nil {
		log.Fatalf("%s: %v", cmd, err)
	}
}

func printResults(results []*goose.MigrationResult, err error) error {
	for _, r := range results {
		fmt.Println(r)
	}
	return err
}

func usage() {
	fmt.Fprintln(os.Stderr, "Usage: migrate [-db path] <command>")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Commands:")
	fmt.Fprintln(os.Stderr, "  up          Migrate to the latest version")
	fmt.Fprintln(os.Stderr, "  up-one      Migrate one version up")
	fmt.Fprintln(os.Stderr, "  down        Roll back one version")
	fmt.Fprintln(os.Stderr, "  status      Show migration status")
	fmt.Fprintln(os.Stderr, "  version     Show current version")
	fmt.Fprintln(os.Stderr, "  reset       Roll back all migrations")
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
