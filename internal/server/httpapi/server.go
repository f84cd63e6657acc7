// Package httpapi exposes the subscription management and read-only status
// endpoints over HTTP.
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/dmitrijs2005/availwatch/internal/logging"
	"github.com/dmitrijs2005/availwatch/internal/server/models"
	"github.com/dmitrijs2005/availwatch/internal/server/services"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

const shutdownTimeout = 5 * time.Second

type Authenticator interface {
	IssueChallenge(ctx context.Context, identity string) error
	Verify(ctx context.Context, identity, code string) (*services.Session, error)
	Authenticate(token string) (string, error)
}

type Subscriptions interface {
	Create(ctx context.Context, owner string, in services.ProfileInput) (*services.ProfileView, error)
	Update(ctx context.Context, owner, id string, in services.ProfileInput) (*services.ProfileView, error)
	Get(ctx context.Context, owner, id string) (*services.ProfileView, error)
	List(ctx context.Context, owner string) ([]*services.ProfileView, error)
	Delete(ctx context.Context, owner, id string) error
	Deliveries(ctx context.Context, owner, id string, limit int) ([]models.DeliveryLog, error)
	Unsubscribe(ctx context.Context, token string) error
}

type Status interface {
	Items(ctx context.Context) ([]*models.ConfigurationItem, error)
	History(ctx context.Context, ciID string, window time.Duration) ([]models.Measurement, error)
	Incidents(ctx context.Context, limit int) ([]models.Incident, error)
	Statistics(ctx context.Context) (*services.Statistics, error)
	Ping(ctx context.Context) error
}

type Server struct {
	address string
	auth    Authenticator
	subs    Subscriptions
	status  Status
	limiter *IssueLimiter
	logger  logging.Logger
}

func NewServer(address string, auth Authenticator, subs Subscriptions, status Status,
	limiter *IssueLimiter, l logging.Logger) *Server {
	return &Server{
		address: address,
		auth:    auth,
		subs:    subs,
		status:  status,
		limiter: limiter,
		logger:  l.With("module", "http_server"),
	}
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.logRequests)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.health)

	r.Route("/api", func(r chi.Router) {
		r.Post("/auth/challenge", s.issueChallenge)
		r.Post("/auth/verify", s.verify)

		r.Get("/items", s.listItems)
		r.Get("/items/{id}/history", s.itemHistory)
		r.Get("/incidents", s.listIncidents)
		r.Get("/statistics", s.statistics)

		r.Route("/profiles", func(r chi.Router) {
			r.Use(s.requireSession)
			r.Get("/", s.listProfiles)
			r.Post("/", s.createProfile)
			r.Get("/{id}", s.getProfile)
			r.Put("/{id}", s.updateProfile)
			r.Delete("/{id}", s.deleteProfile)
			r.Get("/{id}/deliveries", s.listDeliveries)
		})
	})

	r.Get("/unsubscribe/{token}", s.unsubscribe)
	r.Post("/unsubscribe/{token}", s.unsubscribe)

	return r
}

// Run serves until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.address,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		s.logger.Info(ctx, "Stopping HTTP server...")
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(sctx); err != nil {
			s.logger.Error(ctx, "shutdown", "error", err)
		}
	}()

	s.logger.Info(ctx, "Starting HTTP server", "address", s.address)

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
