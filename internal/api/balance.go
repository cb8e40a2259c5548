package api

import (
	"math/big"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/toshi-network/eth-gateway/internal/apierr"
	"github.com/toshi-network/eth-gateway/internal/wire"
)

type balanceResponse struct {
	ConfirmedBalance   string `json:"confirmed_balance"`
	UnconfirmedBalance string `json:"unconfirmed_balance"`
}

// handleGetBalance reports confirmed = chain balance, unconfirmed =
// confirmed minus this sender's own outstanding outgoing cost plus
// inbound value still in flight.
func (s *Server) handleGetBalance(w http.ResponseWriter, r *http.Request) {
	addr, err := wire.ParseAddress(chi.URLParam(r, "address"))
	if err != nil {
		writeError(w, s.log, apierr.Wrap(apierr.InvalidAddress, "malformed address", err))
		return
	}
	ctx := r.Context()

	confirmed, err := s.chain.BalanceAt(ctx, addr, nil)
	if err != nil {
		writeError(w, s.log, apierr.Wrap(apierr.InternalError, "read chain balance", err))
		return
	}

	lastBlock, err := s.store.LastBlockNumber(ctx)
	if err != nil {
		writeError(w, s.log, apierr.Wrap(apierr.InternalError, "read last block", err))
		return
	}
	outgoing, err := s.store.UnconfirmedOutbound(ctx, addr, lastBlock)
	if err != nil {
		writeError(w, s.log, apierr.Wrap(apierr.InternalError, "read outstanding outbound", err))
		return
	}
	inbound, err := s.store.ActiveInbound(ctx, addr, lastBlock)
	if err != nil {
		writeError(w, s.log, apierr.Wrap(apierr.InternalError, "read inbound in flight", err))
		return
	}

	unconfirmed := new(big.Int).Set(confirmed)
	for _, t := range outgoing {
		unconfirmed.Sub(unconfirmed, t.Cost())
	}
	for _, t := range inbound {
		unconfirmed.Add(unconfirmed, t.Value)
	}

	writeJSON(w, http.StatusOK, balanceResponse{
		ConfirmedBalance:   wire.HexBigInt(confirmed),
		UnconfirmedBalance: wire.HexBigInt(unconfirmed),
	})
}
