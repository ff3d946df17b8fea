package main

import (
	"context"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"gatehouse.dev/internal/migrate"
	"gatehouse.dev/internal/obs"
	"gatehouse.dev/internal/store/pg"
)

func main() {
	log := obs.Logger()
	var (
		dsn    = flag.String("dsn", os.Getenv("GATEHOUSE_PG_DSN"), "PostgreSQL DSN")
		driver = flag.String("driver", envOr("GATEHOUSE_DB_DRIVER", pg.DriverPGX), "database/sql driver: pgx or postgres")
		dir    = flag.String("dir", "", "Directory with migrations/ and seeds/ (default: embedded SQL)")
	)
	flag.Parse()

	if *dsn == "" {
		log.Fatal("missing DSN: provide via -dsn or GATEHOUSE_PG_DSN")
	}
	if len(flag.Args()) == 0 {
		log.Fatal("usage: migrate [up|down|seed|status]")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	store, err := pg.Open(*driver, *dsn)
	if err != nil {
		log.WithError(err).Fatal("open db")
	}
	defer store.Close()

	var migrations, seeds fs.FS
	if *dir != "" {
		migrations = os.DirFS(filepath.Join(*dir, "migrations"))
		seeds = os.DirFS(filepath.Join(*dir, "seeds"))
	} else {
		migrations, seeds = migrate.Embedded()
	}
	mgr := migrate.NewManager(store.DB(), migrations, seeds)

	switch flag.Arg(0) {
	case "up":
		err = mgr.Up(ctx)
	case "down":
		err = mgr.Down(ctx)
	case "seed":
		err = mgr.Seed(ctx)
	case "status":
		var history []string
		history, err = mgr.Status(ctx)
		if err == nil {
			for _, item := range history {
				fmt.Println(item)
			}
		}
	default:
		log.Fatalf("unknown command %q", flag.Arg(0))
	}
	if err != nil {
		log.WithError(err).Fatalf("migrate %s", flag.Arg(0))
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
