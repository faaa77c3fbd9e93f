package http

import (
	"context"
	"errors"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"catalog-rag/internal/bootstrap"
	"catalog-rag/internal/cache"
	"catalog-rag/internal/config"
	"catalog-rag/internal/platform/rabbitmq"
	"catalog-rag/internal/transport/http/handler"
	"catalog-rag/internal/transport/http/middleware"
)

func NewRouter(app *bootstrap.App) *gin.Engine {
	gin.SetMode(app.Config.App.GinMode)
	router := gin.New()
	router.Use(gin.Logger(), gin.Recovery(), middleware.RequestID())

	healthHandler := handler.NewHealthHandler(app.Config.App.Name, app.Config.App.Env, app.StartedAt,
		handler.Dependency{Name: "mysql", Required: true, Check: func(ctx context.Context) error {
			sqlDB, err := app.MySQL.DB()
			if err != nil {
				return err
			}
			return sqlDB.PingContext(ctx)
		}},
		handler.Dependency{Name: "fast_tier", Check: func(ctx context.Context) error {
			var soft *cache.SoftError
			if err := app.Cache.Ping(ctx); errors.As(err, &soft) {
				return soft
			}
			return nil
		}},
		handler.Dependency{Name: "rabbitmq", Check: func(context.Context) error {
			return rabbitmq.Check(app.MQConn)
		}},
	)
	router.GET("/healthz", healthHandler.Check)
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(app.Registry, promhttp.HandlerOpts{Registry: app.Registry})))

	qaHandler := handler.NewQAHandler(app.QA, time.Duration(app.Config.LLM.RequestTimeoutSecs)*time.Second)
	documentHandler := handler.NewDocumentHandler(app.DocumentService)
	cacheHandler := handler.NewCacheAdminHandler(app.Cache, app.Log)

	mountAPI(router, app.Config.Auth, qaHandler, documentHandler, cacheHandler)

	return router
}

// mountAPI registers /api/v1. Anything that mutates the corpus or the cache
// as a whole needs the admin role; any valid token may ask questions.
func mountAPI(router gin.IRouter, auth config.AuthConfig, qa *handler.QAHandler, documents *handler.DocumentHandler, cacheAdmin *handler.CacheAdminHandler) {
	v1 := router.Group("/api/v1")
	v1.Use(middleware.AuthJWT(auth.JWTSecret))

	qaGroup := v1.Group("/qa")
	qaGroup.POST("/ask", qa.Ask)
	qaGroup.POST("/search", qa.Search)
	qaGroup.POST("/classify", qa.Classify)

	adminOnly := middleware.RequireRole(auth.AdminRole)

	documentGroup := v1.Group("/documents", adminOnly)
	documentGroup.DELETE("/:id", documents.Delete)
	documentGroup.PUT("/:id/chunks", documents.Reindex)

	adminGroup := v1.Group("/admin", adminOnly)
	adminGroup.POST("/index/reset", documents.ReindexAll)

	cacheGroup := adminGroup.Group("/cache")
	cacheGroup.GET("/stats", cacheAdmin.Stats)
	cacheGroup.GET("/recent", cacheAdmin.Recent)
	cacheGroup.POST("/clear", cacheAdmin.Clear)
	cacheGroup.POST("/cleanup", cacheAdmin.Cleanup)
	cacheGroup.DELETE("/documents/:id", cacheAdmin.InvalidateDocument)
	cacheGroup.DELETE("/catalogs/:id", cacheAdmin.InvalidateCatalog)
	cacheGroup.DELETE("/users/:id", cacheAdmin.InvalidateUser)
}
