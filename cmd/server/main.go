package main

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"donation-settlement-backend/internal/config"
	"donation-settlement-backend/internal/logger"
	"donation-settlement-backend/internal/models"
	"donation-settlement-backend/internal/routes"
)

func main() {
	// Load .env
	if err := godotenv.Load(); err != nil {
		// Fine in deployed environments; config falls back to system env.
	}

	config.Init()
	logger.Init(config.Global.App.Env)
	defer logger.Sync()

	db := config.InitDB()

	if err := db.AutoMigrate(models.AllModels()...); err != nil {
		logger.Fatal("auto-migration failed", zap.Error(err))
	}

	if config.Global.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.Default()
	// CORS config
	r.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"http://localhost:3000"},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE"},
		AllowHeaders:     []string{"Origin", "Content-Type", "X-Internal-Token"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	routes.RegisterRoutes(r, db)

	addr := ":" + config.Global.App.HttpPort
	logger.Info("server starting", zap.String("addr", addr))
	if err := r.Run(addr); err != nil {
		logger.Fatal("server exited", zap.Error(err))
	}
}
