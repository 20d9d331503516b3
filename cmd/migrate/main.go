package main

import (
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"donation-settlement-backend/internal/config"
	"donation-settlement-backend/internal/logger"
	"donation-settlement-backend/internal/models"
)

// Standalone migrator for deploy pipelines that run schema changes before
// rolling the server.
func main() {
	_ = godotenv.Load()

	config.Init()
	logger.Init(config.Global.App.Env)
	defer logger.Sync()

	db := config.InitDB()

	if err := db.AutoMigrate(models.AllModels()...); err != nil {
		logger.Fatal("migration failed", zap.Error(err))
	}

	logger.Info("migration complete")
}
