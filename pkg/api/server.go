package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/sirupsen/logrus"

	"geomvalue/pkg/repo"
	"geomvalue/pkg/value"
)

// APIServer represents the REST API server
type APIServer struct {
	handler *APIHandler
	port    int
	server  *http.Server
}

// NewAPIServer creates a new API server instance. r may be nil.
func NewAPIServer(r *repo.GeometryRepository, wireFormat value.WireFormat, port int) *APIServer {
	return &APIServer{
		handler: NewAPIHandler(r, wireFormat),
		port:    port,
	}
}

// Routes returns the server's request multiplexer.
func (s *APIServer) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/api/v1/render", s.handler.RenderHandler)
	mux.HandleFunc("/api/v1/encode", s.handler.EncodeHandler)
	mux.HandleFunc("/api/v1/features", s.handler.FeaturesHandler)

	// Health check endpoint
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	})

	return mux
}

// Start starts the REST API server
func (s *APIServer) Start() error {
	s.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", s.port),
		Handler: s.Routes(),
	}

	logrus.WithField("port", s.port).Info("starting REST API server")
	return s.server.ListenAndServe()
}

// Stop shuts the REST API server down, waiting for in-flight requests until ctx ends.
func (s *APIServer) Stop(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}
