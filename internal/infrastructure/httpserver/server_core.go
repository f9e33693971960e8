package httpserver

import (
	"time"

	"github.com/avatarctic/idempotency-engine/internal/core/ports"
	customMiddleware "github.com/avatarctic/idempotency-engine/internal/infrastructure/httpserver/middleware"
	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"
)

type ServerConfig struct {
	Host         string
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
	TLSCertFile  string
	TLSKeyFile   string
}

type ServerDeps struct {
	PaymentService ports.PaymentService
	Idempotency    ports.Idempoter
	HealthCheckers []ports.HealthChecker
}

type Server struct {
	echo           *echo.Echo
	config         *ServerConfig
	logger         *logrus.Logger
	paymentSvc     ports.PaymentService
	middleware     *customMiddleware.MiddlewareCollection
	healthCheckers []ports.HealthChecker
}

func NewServer(serverConfig *ServerConfig, logger *logrus.Logger, deps ServerDeps) *Server {
	e := echo.New()

	server := &Server{
		echo:           e,
		config:         serverConfig,
		logger:         logger,
		paymentSvc:     deps.PaymentService,
		healthCheckers: deps.HealthCheckers,
		middleware: customMiddleware.NewMiddlewareCollection(
			deps.Idempotency,
			logger,
			GetRequestsTotal(),
			GetRequestDuration(),
		),
	}

	server.setupMiddleware()
	server.setupRoutes()

	return server
}
