package api

import (
	"net/http"

	"github.com/alwitt/voxmux/common"
	"github.com/alwitt/voxmux/handoff"
	"github.com/alwitt/voxmux/storage"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
)

// ====================================================================================
// Recording Management Server

/*
BuildRecordingManagementServer create recording management API server

	@param httpCfg common.APIServerConfig - HTTP server configuration
	@param operator RecordingOperator - the recording manager
	@param restarter handoff.Restarter - graceful restart trigger
	@returns HTTP server instance
*/
func BuildRecordingManagementServer(
	httpCfg common.APIServerConfig,
	operator RecordingOperator,
	restarter handoff.Restarter,
) (*http.Server, error) {
	httpHandler, err := NewRecordingManagementHandler(
		operator, restarter, httpCfg.APIs.RequestLogging,
	)
	if err != nil {
		return nil, err
	}

	router := mux.NewRouter()
	mainRouter := registerPathPrefix(router, httpCfg.APIs.Endpoint.PathPrefix, nil)
	v1Router := registerPathPrefix(mainRouter, "/v1", nil)

	// --------------------------------------------------------------------------------
	// Health check
	_ = registerPathPrefix(v1Router, "/alive", map[string]http.HandlerFunc{
		"get": httpHandler.AliveHandler(),
	})
	_ = registerPathPrefix(v1Router, "/ready", map[string]http.HandlerFunc{
		"get": httpHandler.ReadyHandler(),
	})

	// --------------------------------------------------------------------------------
	// Recording
	recordingRouter := registerPathPrefix(v1Router, "/recording", map[string]http.HandlerFunc{
		"post": httpHandler.StartRecordingHandler(),
		"get":  httpHandler.ListRecordingsHandler(),
	})

	perGuildRouter := registerPathPrefix(
		recordingRouter, "/guild/{guildID}", map[string]http.HandlerFunc{
			"delete": httpHandler.StopGuildRecordingsHandler(),
		},
	)

	_ = registerPathPrefix(perGuildRouter, "/channel/{channelID}", map[string]http.HandlerFunc{
		"delete": httpHandler.StopChannelRecordingHandler(),
	})

	_ = registerPathPrefix(v1Router, "/occupancy", map[string]http.HandlerFunc{
		"get": httpHandler.GetOccupancyHandler(),
	})

	// --------------------------------------------------------------------------------
	// Process
	_ = registerPathPrefix(v1Router, "/restart", map[string]http.HandlerFunc{
		"post": httpHandler.RequestRestartHandler(),
	})

	// --------------------------------------------------------------------------------
	// Middleware

	router.Use(func(next http.Handler) http.Handler {
		return httpHandler.LoggingMiddleware(next.ServeHTTP)
	})

	return newHTTPServer(httpCfg.Server, router), nil
}

// ====================================================================================
// Download Server

/*
BuildDownloadServer create recording download API server

	@param downloadCfg common.DownloadAPIConfig - download API configuration
	@param store storage.Store - local recording storage
	@param purger RecordingPurger - recording deletion
	@returns HTTP server instance
*/
func BuildDownloadServer(
	downloadCfg common.DownloadAPIConfig, store storage.Store, purger RecordingPurger,
) (*http.Server, error) {
	httpCfg := downloadCfg.APIServer
	httpHandler, err := NewDownloadHandler(store, purger, httpCfg.APIs.RequestLogging)
	if err != nil {
		return nil, err
	}

	router := mux.NewRouter()
	mainRouter := registerPathPrefix(router, httpCfg.APIs.Endpoint.PathPrefix, nil)
	v1Router := registerPathPrefix(mainRouter, "/v1", nil)

	// --------------------------------------------------------------------------------
	// Health check
	_ = registerPathPrefix(v1Router, "/alive", map[string]http.HandlerFunc{
		"get": httpHandler.AliveHandler(),
	})

	// --------------------------------------------------------------------------------
	// Download
	_ = registerPathPrefix(v1Router, "/download/{recordingID}", map[string]http.HandlerFunc{
		"get":    httpHandler.DownloadRecordingHandler(),
		"delete": httpHandler.DeleteRecordingHandler(),
	})

	// --------------------------------------------------------------------------------
	// Middleware

	router.Use(func(next http.Handler) http.Handler {
		return httpHandler.LoggingMiddleware(next.ServeHTTP)
	})

	corsHandler := cors.New(cors.Options{
		AllowedOrigins: downloadCfg.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodDelete},
		ExposedHeaders: []string{"Content-Disposition", "Content-Length"},
	})

	return newHTTPServer(httpCfg.Server, corsHandler.Handler(router)), nil
}

// ====================================================================================
// Supervisor Server

/*
BuildSupervisorServer create supervisor handoff API server

	@param httpCfg common.APIServerConfig - HTTP server configuration
	@param receiver HandoffReceiver - the supervisor
	@returns HTTP server instance
*/
func BuildSupervisorServer(
	httpCfg common.APIServerConfig, receiver HandoffReceiver,
) (*http.Server, error) {
	httpHandler, err := NewSupervisorHandler(receiver, httpCfg.APIs.RequestLogging)
	if err != nil {
		return nil, err
	}

	router := mux.NewRouter()
	mainRouter := registerPathPrefix(router, httpCfg.APIs.Endpoint.PathPrefix, nil)
	v1Router := registerPathPrefix(mainRouter, "/v1", nil)

	_ = registerPathPrefix(v1Router, "/alive", map[string]http.HandlerFunc{
		"get": httpHandler.AliveHandler(),
	})

	handoffRouter := registerPathPrefix(v1Router, "/handoff", nil)
	_ = registerPathPrefix(handoffRouter, "/restart", map[string]http.HandlerFunc{
		"post": httpHandler.HandoffRestartHandler(),
	})
	_ = registerPathPrefix(handoffRouter, "/snapshot", map[string]http.HandlerFunc{
		"get": httpHandler.HandoffSnapshotHandler(),
	})

	router.Use(func(next http.Handler) http.Handler {
		return httpHandler.LoggingMiddleware(next.ServeHTTP)
	})

	return newHTTPServer(httpCfg.Server, router), nil
}

// ====================================================================================
// Metrics Server

/*
BuildMetricsServer create the Prometheus metrics server

	@param metricsCfg common.MetricsConfig - metrics configuration
	@param registry *prometheus.Registry - the metrics registry to expose
	@returns HTTP server instance
*/
func BuildMetricsServer(
	metricsCfg common.MetricsConfig, registry *prometheus.Registry,
) (*http.Server, error) {
	router := mux.NewRouter()
	router.Handle(metricsCfg.MetricsEndpoint, promhttp.HandlerFor(
		registry, promhttp.HandlerOpts{MaxRequestsInFlight: metricsCfg.MaxRequests},
	)).Methods(http.MethodGet)
	return newHTTPServer(metricsCfg.Server, router), nil
}
