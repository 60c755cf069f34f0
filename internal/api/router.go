package api

import (
	"github.com/SherClockHolmes/webpush-go"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"rehab-sync-backend/config"
	"rehab-sync-backend/internal/metrics"
	"rehab-sync-backend/internal/mw"
	"rehab-sync-backend/internal/statecache"
	"rehab-sync-backend/internal/store"
)

// NewRouter creates and configures a new Gin router. Device routes and
// dashboard routes carry distinct credential types: the shared device
// token respectively a dashboard JWT. Every device-facing route picks
// its boundary explicitly.
func NewRouter(s store.Store, mirror *statecache.Mirror, cfg *config.Config, webpushOptions *webpush.Options) *gin.Engine {
	r := gin.Default()
	r.HandleMethodNotAllowed = true

	metrics.Init()
	handler := NewHandler(s, mirror, cfg.Device.LivenessWindow, webpushOptions)

	rateLimiter := mw.RateLimiter(rate.Limit(cfg.Server.RateLimitPerSec), cfg.Server.RateLimitBurst)

	// Device-facing routes. Telemetry requires the shared token; the
	// poll and simple-state routes are an open device trust boundary
	// (headless clients without stable credentials), kept rate-limited.
	device := r.Group("/api/device")
	device.Use(rateLimiter)
	{
		device.POST("/telemetry", mw.DeviceToken(cfg.Device.APIToken), handler.PostTelemetry)
		device.GET("/command", handler.PollCommand)
		device.POST("/command", handler.PollCommand)
		device.GET("/state", handler.GetState)
		device.POST("/state", handler.PostState)
	}

	// Dashboard routes, authenticated with the clinic web app's JWT.
	dashboard := r.Group("/api")
	dashboard.Use(mw.DashboardAuth(cfg.Auth.JWTSecret))
	{
		dashboard.GET("/maquinas", handler.GetMachines)
		dashboard.GET("/maquinas/labels", handler.GetMachineLabels)
		dashboard.POST("/comandos", handler.EnqueueCommand)
		dashboard.POST("/sesiones", handler.StartSession)
		dashboard.POST("/sesiones/:id/cerrar", handler.CloseSession)

		dashboard.GET("/subscriptions", handler.GetSubscription)
		dashboard.PUT("/subscriptions", handler.PutSubscription)
		dashboard.DELETE("/subscriptions", handler.DeleteSubscription)
		dashboard.GET("/vapid_public_key", handler.GetVAPIDPublicKey)
	}

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/healthz", func(c *gin.Context) { c.JSON(200, gin.H{"status": "ok"}) })

	return r
}
