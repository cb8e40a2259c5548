package api

import (
	"encoding/json"
	"net/http"

	"github.com/ethereum/go-ethereum/common"

	"github.com/toshi-network/eth-gateway/internal/apierr"
	"github.com/toshi-network/eth-gateway/internal/domain"
	"github.com/toshi-network/eth-gateway/internal/wire"
)

type pushRegisterRequest struct {
	Address     string `json:"address"`
	DeviceToken string `json:"device_token"`
	TokenID     string `json:"token_id"`
}

func (s *Server) handleRegisterAPN(w http.ResponseWriter, r *http.Request) {
	s.registerPush(w, r, domain.ServiceAPN, s.hub.RegisterAPN)
}

func (s *Server) handleRegisterGCM(w http.ResponseWriter, r *http.Request) {
	s.registerPush(w, r, domain.ServiceGCM, s.hub.RegisterGCM)
}

func (s *Server) registerPush(w http.ResponseWriter, r *http.Request, service domain.SubscriptionService, register func(addr common.Address, deviceToken string)) {
	var req pushRegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, s.log, apierr.New(apierr.InvalidParams, "malformed request body"))
		return
	}
	addr, err := wire.ParseAddress(req.Address)
	if err != nil {
		writeError(w, s.log, apierr.Wrap(apierr.InvalidAddress, "malformed address", err))
		return
	}
	if req.DeviceToken == "" {
		writeError(w, s.log, apierr.New(apierr.InvalidParams, "device_token is required"))
		return
	}

	if err := s.store.AddSubscription(r.Context(), req.TokenID, addr, service); err != nil {
		writeError(w, s.log, apierr.Wrap(apierr.InternalError, "add subscription", err))
		return
	}
	register(addr, req.DeviceToken)
	writeJSON(w, http.StatusOK, struct{}{})
}
