package http

// registerV1Routes sets up the /api/v1 structure.
func (s *Server) registerV1Routes() {
	v1 := s.engine.Group("/api/v1")
	v1.Use(apiVersionMiddleware())

	stations := v1.Group("/stations")
	{
		stations.GET("", s.handleV1ListStations)
		stations.GET("/:id", s.handleV1GetStation)
		stations.GET("/:id/measurements", s.handleV1StationMeasurements)
	}

	summary := v1.Group("/summary")
	{
		summary.GET("/weekly", s.handleV1WeeklySummary)
	}
}
