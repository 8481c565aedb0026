package handler

import (
	"net/http"
	"slices"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	ginprometheus "github.com/zsais/go-gin-prometheus"
	"go.uber.org/zap"
)

// RouterConfig параметры сборки роутера.
type RouterConfig struct {
	AllowedOrigins []string
	// EnableMetrics добавляет /metrics и метрики запросов gin.
	EnableMetrics bool
}

// NewRouter собирает gin.Engine с логированием, CORS, health и маршрутами историй.
func NewRouter(cfg RouterConfig, h *StoryHandler, logger *zap.Logger) *gin.Engine {
	router := gin.New()
	router.RedirectTrailingSlash = true
	router.Use(GinZapLogger(logger.Named("HTTP")))
	router.Use(gin.Recovery())

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowCredentials = true
	switch {
	case slices.Contains(cfg.AllowedOrigins, "*"):
		corsConfig.AllowAllOrigins = true
		corsConfig.AllowCredentials = false
	case len(cfg.AllowedOrigins) > 0:
		corsConfig.AllowOrigins = cfg.AllowedOrigins
	default:
		corsConfig.AllowOrigins = []string{"http://localhost:3000"}
		logger.Info("CORS allowed origins not set, allowing default", zap.String("origin", "http://localhost:3000"))
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Length", "Content-Type", "Authorization", "X-Request-ID"}
	corsConfig.MaxAge = 12 * time.Hour
	router.Use(cors.New(corsConfig))

	health := func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
	router.GET("/health", health)
	router.HEAD("/health", health)

	h.RegisterRoutes(router)

	if cfg.EnableMetrics {
		p := ginprometheus.NewPrometheus("gin")
		p.Use(router)
	}
	return router
}
