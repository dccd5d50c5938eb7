package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"os"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"

	"opsdesk.org/internal/migrate"
	"opsdesk.org/internal/obs"
)

func main() {
	var (
		dsn      = flag.String("dsn", os.Getenv("OPSDESK_DB_DSN"), "PostgreSQL DSN")
		migsPath = flag.String("migrations", "ops/migrations/sql", "path to SQL migrations")
		seedPath = flag.String("seeds", "ops/migrations/seeds", "path to SQL seeds")
	)
	flag.Parse()

	log, err := obs.NewLogger(os.Getenv("OPSDESK_ENV"))
	if err != nil {
		fmt.Fprintln(os.Stderr, "init logger:", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	if *dsn == "" {
		log.Fatal("missing DSN: provide via -dsn or OPSDESK_DB_DSN")
	}
	if flag.NArg() == 0 {
		log.Fatal("usage: migrate [up|down|seed|status]")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	db, err := sql.Open("pgx", *dsn)
	if err != nil {
		log.Fatal("open db", zap.Error(err))
	}
	defer db.Close()

	runner := migrate.NewRunner(db, *migsPath, *seedPath, log)

	cmd := flag.Arg(0)
	switch cmd {
	case "up":
		err = runner.Up(ctx)
	case "down":
		err = runner.Down(ctx)
	case "seed":
		err = runner.Seed(ctx)
	case "status":
		var applied []string
		applied, err = runner.Status(ctx)
		for _, name := range applied {
			fmt.Println(name)
		}
	default:
		log.Fatal("unknown command", zap.String("command", cmd))
	}
	if err != nil {
		log.Fatal("migrate failed", zap.String("command", cmd), zap.Error(err))
	}
}
