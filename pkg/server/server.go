// Package server is the HTTP transport adapter: it deserializes requests
// into typed commands for the core packages and serializes their results to
// the wire format. No simulation logic lives here.
package server

import (
	"log/slog"
	"net/http"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/boristopalov/slicewise/pkg/algostore"
	"github.com/boristopalov/slicewise/pkg/experiment"
	"github.com/boristopalov/slicewise/pkg/messaging"
	"github.com/boristopalov/slicewise/pkg/session"
)

type Server struct {
	engine *gin.Engine
	store  *session.Store
	algos  *algostore.Store
	runner *experiment.Runner
	broker messaging.Broker
	logger *slog.Logger
}

type Option func(*Server)

// WithAlgoStore enables the upload endpoints.
func WithAlgoStore(s *algostore.Store) Option {
	return func(srv *Server) { srv.algos = s }
}

// WithBroker enables the websocket watch endpoint.
func WithBroker(b messaging.Broker) Option {
	return func(srv *Server) { srv.broker = b }
}

func WithLogger(l *slog.Logger) Option {
	return func(srv *Server) { srv.logger = l }
}

func New(store *session.Store, runner *experiment.Runner, opts ...Option) *Server {
	srv := &Server{
		store:  store,
		runner: runner,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(srv)
	}

	engine := gin.New()
	engine.Use(gin.Recovery())
	// The sandbox is open: any origin may call the API.
	engine.Use(cors.Default())
	srv.engine = engine
	srv.routes()
	return srv
}

func (s *Server) routes() {
	s.engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := s.engine.Group("/api")
	{
		api.GET("/health", s.handleHealth)

		play := api.Group("/play")
		{
			play.POST("/start", s.handlePlayStart)
			play.POST("/step", s.handlePlayStep)
			play.GET("/log", s.handlePlayLog)
			play.POST("/end", s.handlePlayEnd)
			play.POST("/reset", s.handlePlayReset)
			if s.broker != nil {
				play.GET("/watch", s.handlePlayWatch)
			}
		}

		api.POST("/plot", s.handlePlot)

		if s.algos != nil {
			api.POST("/algorithms", s.handleUploadAlgorithm)
			api.GET("/algorithms", s.handleListAlgorithms)
		}
	}
}

// Handler exposes the router, used by tests and by the entrypoint's
// http.Server.
func (s *Server) Handler() http.Handler {
	return s.engine
}
