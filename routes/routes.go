package routes

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"ClinicQueue/cache"
	"ClinicQueue/config"
	"ClinicQueue/controllers"
	"ClinicQueue/database"
	"ClinicQueue/handlers"
	"ClinicQueue/live"
	"ClinicQueue/logger"
	"ClinicQueue/metrics"
	"ClinicQueue/middlewares"
	"ClinicQueue/queue"
	"ClinicQueue/repositories"
	"ClinicQueue/services"
)

// Deps are the process-wide collaborators the HTTP surface is built from.
type Deps struct {
	Config   *config.AppConfig
	DB       *gorm.DB
	Locker   database.DayLocker
	Cache    *cache.Coordinator
	Metrics  *metrics.Metrics
	Gatherer prometheus.Gatherer
	Log      *zap.Logger
}

// SetupRoutes initializes the routes and middleware for the server
func SetupRoutes(d Deps) http.Handler {
	cfg := d.Config
	log := logger.OrNop(d.Log)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middlewares.LoggingMiddleware(log))
	router.Use(middlewares.CorsMiddleware(middlewares.DefaultCorsConfig(cfg.AllowedOrigins)))

	// Initialize repositories, services, and handlers
	dayRepo := repositories.NewDayRepository(d.DB, d.Locker)
	archiveRepo := repositories.NewArchiveRepository(d.DB)
	paymentRepo := repositories.NewPaymentRepository(d.DB)

	engine := queue.NewEngine(nil, nil)
	bookingService := services.NewBookingService(dayRepo, archiveRepo, d.Cache, engine, services.BookingOptionsFrom(cfg), log, d.Metrics)
	archiveService := services.NewArchiveService(dayRepo, archiveRepo, d.Cache, cfg.Location(), log, d.Metrics)
	paymentService := services.NewPaymentService(paymentRepo, d.Cache, cfg.GoldenPaymentAmount, cfg.Location(), log)

	broadcaster := live.NewBroadcaster(bookingService, live.Options{
		PollInterval: cfg.StreamPollInterval,
		MaxLifetime:  cfg.StreamMaxLifetime,
		Heartbeat:    cfg.StreamHeartbeat,
	}, log, d.Metrics)

	h := controllers.QueueHandlers{
		Bookings: handlers.NewBookingHandler(bookingService, log),
		Days:     handlers.NewDayHandler(bookingService, broadcaster, log),
		Archives: handlers.NewArchiveHandler(archiveService, log),
		Payments: handlers.NewPaymentHandler(paymentService, log),
	}
	admission := middlewares.NewStreamAdmission(middlewares.RateLimiterConfig{
		RequestsPerSecond: cfg.StreamAdmissionRPS,
		Burst:             cfg.StreamAdmissionBurst,
	}, handlers.WantsStream)

	// Register routes
	api := router.Group("/api")
	api.Use(middlewares.ValidateProfileSecret(cfg.GetProfileSecret()))
	controllers.SetupQueueRoutes(api, h, admission)

	controllers.SetupRootRoute(router, d.Gatherer)

	return router
}
