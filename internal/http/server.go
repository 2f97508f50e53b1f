// README: API gateway; owns the gin engine and delegates to module services.
package http

import (
	"net/http"
	"time"

	"go.uber.org/zap"

	"tgtaxi/internal/http/handlers"
	"tgtaxi/internal/http/middleware"
	"tgtaxi/internal/infra"
	"tgtaxi/internal/modules/accesscode"
	"tgtaxi/internal/modules/chat"
	"tgtaxi/internal/modules/order"
	"tgtaxi/internal/modules/ratelimit"
	"tgtaxi/internal/modules/rating"
	"tgtaxi/internal/modules/user"
)

type ServerDeps struct {
	Users       *user.Service
	Codes       *accesscode.Service
	Orders      *order.Service
	Ratings     *rating.Service
	Chat        *chat.Service
	Guard       *ratelimit.Guard
	Broadcaster handlers.Broadcaster
	Verifier    infra.TokenVerifier
	Issuer      handlers.TokenIssuer
	Throttle    *middleware.Throttle

	BotToken       string
	InitDataMaxAge time.Duration
	InternalToken  string
	Log            *zap.Logger
}

type Server struct {
	deps ServerDeps
}

func NewServer(deps ServerDeps) *Server {
	if deps.Log == nil {
		deps.Log = zap.NewNop()
	}
	return &Server{deps: deps}
}

func (s *Server) Routes() http.Handler {
	return NewRouter(s.deps)
}

// NewHTTPServer wraps the routes with sane timeouts.
func (s *Server) NewHTTPServer(addr string) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           s.Routes(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}
