package main

import (
	"flag"
	"log"
	"os"

	"storefront-orders/config"
	"storefront-orders/internal/store"
	"storefront-orders/internal/util"

	"go.uber.org/zap"
)

func main() {
	flag.Parse()
	args := flag.Args()
	if len(args) < 1 {
		log.Fatal("usage: migrate <up|down|version>")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if err := util.InitLogger(cfg.Server.Env); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer util.SyncLogger()
	logger := util.GetLogger()

	switch args[0] {
	case "up":
		if err := store.Migrate(cfg.Database.URL, 0); err != nil {
			logger.Error("Migration up failed", zap.Error(err))
			os.Exit(1)
		}
		logger.Info("Migrations applied")

	case "down":
		if err := store.Migrate(cfg.Database.URL, -1); err != nil {
			logger.Error("Migration down failed", zap.Error(err))
			os.Exit(1)
		}
		logger.Info("Migration rolled back")

	case "version":
		version, dirty, err := store.MigrationVersion(cfg.Database.URL)
		if err != nil {
			logger.Error("Failed to read migration version", zap.Error(err))
			os.Exit(1)
		}
		logger.Info("Current migration version", zap.Uint("version", version), zap.Bool("dirty", dirty))

	default:
		logger.Error("Unknown command", zap.String("command", args[0]))
		os.Exit(1)
	}
}
