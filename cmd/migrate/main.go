package main

import (
	"flag"

	"go.uber.org/zap"
	"max.ks1230/grants-portal/internal/config"
	"max.ks1230/grants-portal/internal/logger"
	"max.ks1230/grants-portal/internal/migrations"
	"max.ks1230/grants-portal/internal/model/storage"
)

func main() {
	defer logger.Sync()

	steps := flag.Int("steps", 1, "migrations to roll back with down")
	flag.Parse()
	direction := flag.Arg(0)
	if direction == "" {
		direction = "up"
	}

	conf, err := config.New()
	if err != nil {
		logger.Fatal("failed to init config", zap.Error(err))
	}

	db, err := storage.NewPostgresStorage(conf.Postgres())
	if err != nil {
		logger.Fatal("failed to init postgres", zap.Error(err))
	}
	defer db.Close()

	switch direction {
	case "up":
		err = migrations.Up(db.DB())
	case "down":
		err = migrations.Down(db.DB(), *steps)
	default:
		logger.Fatal("unknown direction, use up or down", zap.String("direction", direction))
	}
	if err != nil {
		logger.Fatal("migration failed", zap.Error(err))
	}
}
