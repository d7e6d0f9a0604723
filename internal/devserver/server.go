// Package devserver is a local implementation of the authorization
// service contract: row filters are composed from a policy document and
// the binding document each request carries.
package devserver

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/sukryu/gorm-oso/pkg/apis/policy/v1alpha1"
	"github.com/sukryu/gorm-oso/pkg/errors"
)

type Options struct {
	Policy *v1alpha1.Policy
	// APIKeyHash is a bcrypt hash of the accepted API key. Empty disables
	// authentication.
	APIKeyHash string
	Logger     *slog.Logger
}

type Server struct {
	engine *gin.Engine
	facts  *FactStore
}

func New(opts Options) (*Server, error) {
	if opts.Policy == nil {
		return nil, errors.ErrInvalidConfig.WithReason("policy is required")
	}
	if err := opts.Policy.Validate(); err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "devserver")

	facts := NewFactStore()
	h := NewHandler(NewEvaluator(opts.Policy, facts), facts)

	router := gin.New()
	router.Use(gin.Recovery(), RequestLogger(logger), ErrorMiddleware(logger))

	router.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusOK) })

	api := router.Group("/api")
	if opts.APIKeyHash != "" {
		api.Use(APIKeyAuth([]byte(opts.APIKeyHash)))
	} else {
		logger.Warn("api key authentication disabled")
	}
	{
		api.POST("/list_local", h.ListLocal)
		api.GET("/facts", h.ListFacts)
		api.POST("/facts", h.InsertFact)
		api.DELETE("/facts", h.DeleteFact)
	}

	return &Server{engine: router, facts: facts}, nil
}

func (s *Server) Handler() http.Handler { return s.engine }

func (s *Server) Facts() *FactStore { return s.facts }

// Run serves on addr until the listener fails.
func (s *Server) Run(addr string) error { return s.engine.Run(addr) }
