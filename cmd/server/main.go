package main

import (
	"log"

	_ "storefront_payments/internal/domain/payment"
	"storefront_payments/internal/pkg/config"
	"storefront_payments/internal/pkg/middleware"
	"storefront_payments/internal/pkg/registry"
	"storefront_payments/pkg/database"
	"storefront_payments/pkg/logger"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	config.LoadConfig()
	logger.Init(config.GlobalConfig.App.Debug)
	defer logger.Sync()

	if config.GlobalConfig.Server.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	db := database.InitDatabase()
	rdb := database.InitRedis()

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.TraceMiddleware())
	r.Use(middleware.LoggerMiddleware())
	r.Use(cors.Default())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// 按优先级初始化各业务模块
	if err := registry.InitModules(&registry.ModuleContext{
		DB:     db,
		Redis:  rdb,
		Router: r,
	}); err != nil {
		log.Fatalf("Failed to init modules: %v", err)
	}

	addr := ":" + config.GlobalConfig.Server.Port
	if err := r.Run(addr); err != nil {
		log.Fatalf("Server exited: %v", err)
	}
}
