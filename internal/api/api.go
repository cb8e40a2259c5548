// Package api exposes the gateway's client-facing HTTP and WebSocket
// surface: skeleton construction, signed-transaction submission, balance
// and token queries, push-device registration, and the subscription
// socket. It is a thin translation layer over intake/store/notify — all
// business logic lives there.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/toshi-network/eth-gateway/internal/chain"
	"github.com/toshi-network/eth-gateway/internal/intake"
	"github.com/toshi-network/eth-gateway/internal/notify"
	"github.com/toshi-network/eth-gateway/internal/store"
)

// Server holds everything the handlers need.
type Server struct {
	intake    *intake.Intake
	store     *store.Store
	chain     *chain.Client
	hub       *notify.WSHub
	networkID int64
	log       zerolog.Logger
}

func New(ix *intake.Intake, s *store.Store, c *chain.Client, hub *notify.WSHub, networkID int64, log zerolog.Logger) *Server {
	return &Server{intake: ix, store: s, chain: c, hub: hub, networkID: networkID, log: log}
}

// Router builds the chi mux for the whole client surface.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "DELETE"},
		AllowedHeaders: []string{"Authorization", "Content-Type"},
	}))

	r.Post("/tx/skel", s.handleBuildSkeleton)
	r.Post("/tx", s.handleSubmitTransaction)
	r.Get("/tx/{hash}", s.handleGetTransaction)
	r.Get("/balance/{address}", s.handleGetBalance)
	r.Get("/tokens/{address}", s.handleListTokens)
	r.Post("/token", s.handleRegisterToken)
	r.Delete("/token/{contract}", s.handleDeregisterToken)
	r.Post("/apn/register", s.handleRegisterAPN)
	r.Post("/gcm/register", s.handleRegisterGCM)
	r.Get("/ws", s.handleWebsocket)

	return r
}
