package api

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/your-org/faceid/internal/api/handlers"
	"github.com/your-org/faceid/internal/api/ws"
	"github.com/your-org/faceid/internal/auth"
)

type RouterConfig struct {
	APIKey         string
	CORSOrigins    []string
	MaxUploadBytes int64
	Faces          handlers.FaceService
	// Checks are the dependencies reported by /readyz.
	Checks map[string]handlers.Pinger
	Ready  func() bool
	// Hub is optional; without it /api/v1/ws is not registered.
	Hub *ws.Hub
}

func corsConfig(origins []string) cors.Config {
	cfg := cors.Config{
		AllowMethods:  []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept", "X-API-Key"},
		ExposeHeaders: []string{"Content-Length"},
		MaxAge:        12 * time.Hour,
	}
	if len(origins) == 0 || (len(origins) == 1 && origins[0] == "*") {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = origins
		cfg.AllowCredentials = true
	}
	return cfg
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(LoggingMiddleware())
	r.Use(cors.New(corsConfig(cfg.CORSOrigins)))

	// System endpoints (no auth)
	systemH := handlers.NewSystemHandler(cfg.Checks, cfg.Ready)
	r.GET("/healthz", systemH.Healthz)
	r.GET("/readyz", systemH.Readyz)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// API v1 (auth only when a key is configured)
	v1 := r.Group("/api/v1")
	v1.Use(auth.APIKeyMiddleware(cfg.APIKey))

	faceH := handlers.NewFaceHandler(cfg.Faces, cfg.MaxUploadBytes)
	v1.POST("/enroll", faceH.Enroll)
	v1.POST("/check-in", faceH.CheckIn)
	v1.PUT("/update", faceH.Update)
	v1.DELETE("/delete", faceH.Delete)
	v1.DELETE("/delete-all", faceH.DeleteAll)
	v1.GET("/faces/:face_id/snapshot", faceH.Snapshot)

	if cfg.Hub != nil {
		v1.GET("/ws", cfg.Hub.HandleWS)
	}

	return r
}
