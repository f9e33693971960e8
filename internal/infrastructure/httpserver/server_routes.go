package httpserver

func (s *Server) setupRoutes() {
	s.echo.GET("/health", s.healthCheck)
	s.echo.GET("/metrics", s.metricsEndpoint)

	api := s.echo.Group("/api/v1")
	// at-most-once processing keyed on the request payload
	api.POST("/payments", s.createPayment, s.middleware.Idempotency.Handler())
}
