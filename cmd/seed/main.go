// Command seed loads or wipes development data.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/noah-isme/tour-booking-api/internal/repository"
	"github.com/noah-isme/tour-booking-api/internal/service"
	"github.com/noah-isme/tour-booking-api/migrations"
	"github.com/noah-isme/tour-booking-api/pkg/config"
	"github.com/noah-isme/tour-booking-api/pkg/database"
	"github.com/noah-isme/tour-booking-api/pkg/logger"
)

const purgeStatement = `TRUNCATE bookings, reviews, tours, users CASCADE`

func main() {
	file := flag.String("import", "", "path of the JSON dataset to load")
	purge := flag.Bool("delete", false, "delete all users, tours, reviews and bookings")
	flag.Parse()

	if *file == "" && !*purge {
		fmt.Fprintln(os.Stderr, "usage: seed -import data.json | -delete")
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	ctx := context.Background()
	db, err := database.NewPostgres(ctx, cfg.Database)
	if err != nil {
		log.Fatalf("failed to connect to postgres: %v", err)
	}
	defer db.Close()
	if err := database.Migrate(ctx, db, migrations.FS); err != nil {
		log.Fatalf("failed to apply migrations: %v", err)
	}

	if *purge {
		if _, err := db.ExecContext(ctx, purgeStatement); err != nil {
			log.Fatalf("failed to delete data: %v", err)
		}
		fmt.Println(colorOK("√ data successfully deleted"))
		return
	}

	f, err := os.Open(*file)
	if err != nil {
		log.Fatalf("failed to open dataset: %v", err)
	}
	defer f.Close()
	ds, err := ParseDataset(f)
	if err != nil {
		log.Fatalf("%v", err)
	}

	users := repository.NewUserRepository(db)
	tours := repository.NewTourRepository(db)
	reviews := repository.NewReviewRepository(db)
	validate := service.NewValidator()
	tourSvc := service.NewTourService(tours, reviews, users, nil, nil, nil, validate, logr)
	reviewSvc := service.NewReviewService(reviews, tours, tourSvc, validate, logr)

	seeder := NewSeeder(users, service.NewBcryptHasher(cfg.Auth.BcryptCost), tourSvc, reviewSvc)
	outcomes := seeder.Import(ctx, ds)
	Render(os.Stdout, outcomes)
	if Failed(outcomes) {
		os.Exit(1)
	}
}
