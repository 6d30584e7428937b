package server

import (
	"backend-lifetrack/internal/activity"
	"backend-lifetrack/internal/auth"
	"backend-lifetrack/internal/config"
	"backend-lifetrack/internal/geolocation"
	"backend-lifetrack/internal/metrics"
	"backend-lifetrack/internal/stream"
	"backend-lifetrack/internal/tracking"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

type Server struct {
	App      *fiber.App
	Cfg      config.Config
	DB       *pgxpool.Pool
	Redis    *redis.Client
	Stream   *stream.Hub
	Tracking *tracking.Manager
	Metrics  *metrics.Metrics
	Log      logrus.FieldLogger

	activities *activity.Store
}

func NewServer(cfg config.Config, db *pgxpool.Pool, redisClient *redis.Client, log logrus.FieldLogger) *Server {
	if log == nil {
		log = logrus.StandardLogger()
	}

	app := fiber.New()
	app.Use(recover.New())
	app.Use(logger.New())

	s := &Server{
		App:     app,
		Cfg:     cfg,
		DB:      db,
		Redis:   redisClient,
		Stream:  stream.NewHub(redisClient, log),
		Metrics: metrics.New(),
		Log:     log,
	}
	app.Use(s.Metrics.Middleware())

	tc := cfg.TrackerSettings()
	var energy tracking.EnergyModel
	if tc.KcalPerKm > 0 {
		energy = tracking.LinearEnergyModel{KcalPerKm: tc.KcalPerKm}
	}
	if db != nil {
		s.activities = activity.NewStore(db, energy)
	} else {
		log.Warn("no postgres pool, finished activities stay pending")
	}

	s.Tracking = tracking.NewManager(tracking.ManagerOptions{
		Settings: tracking.Settings{
			Interval:        tc.Interval,
			FastestInterval: tc.FastestInterval,
			MaxAccuracyM:    tc.MaxAccuracyM,
			SubmitTimeout:   tc.SubmitTimeout,
		},
		Energy:  energy,
		Logger:  log,
		NewFeed: func() tracking.FeedSource { return geolocation.NewFeed(0) },
		SinkFor: s.sinkFor,
		ObserversFor: func(userID string) []tracking.Observer {
			return []tracking.Observer{
				tracking.NewHubObserver(s.Stream, userID, log),
				s.Metrics.Observer(),
			}
		},
	})
	s.Metrics.TrackSessions(s.Tracking.Len)

	registerRoutes(s)
	return s
}

func (s *Server) sinkFor(userID string) tracking.RecordSink {
	if s.activities == nil {
		return nil
	}
	return s.activities.ForOwner(userID)
}

// Close discards live tracking sessions and stops the stream relay. The
// caller closes the database and Redis clients.
func (s *Server) Close() error {
	s.Tracking.Close()
	return s.Stream.Close()
}

func registerRoutes(s *Server) {
	s.App.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})
	s.App.Get("/metrics", adaptor.HTTPHandler(s.Metrics.Handler()))

	jwtMiddleware := auth.JWTMiddleware(s.Cfg.JWTSecret)

	auth.RegisterRoutes(s.App.Group("/auth"), s.Cfg.JWTSecret)
	tracking.RegisterRoutes(s.App.Group("/tracking"), s.Tracking, jwtMiddleware)
	if s.activities != nil {
		activity.RegisterRoutes(s.App.Group("/activities"), s.activities, jwtMiddleware)
	}
	stream.RegisterRoutes(s.App.Group("/stream"), s.Stream, jwtMiddleware)
}
