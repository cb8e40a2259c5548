package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/toshi-network/eth-gateway/internal/apierr"
	"github.com/toshi-network/eth-gateway/internal/domain"
	"github.com/toshi-network/eth-gateway/internal/wire"
)

type tokenBalanceResponse struct {
	ContractAddress string `json:"contractAddress"`
	Balance         string `json:"balance"`
}

func (s *Server) handleListTokens(w http.ResponseWriter, r *http.Request) {
	addr, err := wire.ParseAddress(chi.URLParam(r, "address"))
	if err != nil {
		writeError(w, s.log, apierr.Wrap(apierr.InvalidAddress, "malformed address", err))
		return
	}
	balances, err := s.store.TokenBalancesByAddress(r.Context(), addr)
	if err != nil {
		writeError(w, s.log, apierr.Wrap(apierr.InternalError, "read token balances", err))
		return
	}
	out := make([]tokenBalanceResponse, len(balances))
	for i, b := range balances {
		out[i] = tokenBalanceResponse{ContractAddress: b.ContractAddress.Hex(), Balance: wire.HexBigInt(b.Balance)}
	}
	writeJSON(w, http.StatusOK, out)
}

type registerTokenRequest struct {
	Address  string `json:"address"`
	Contract string `json:"contract"`
}

// handleRegisterToken reads symbol/name/decimals straight from the
// contract rather than trusting client-supplied metadata.
func (s *Server) handleRegisterToken(w http.ResponseWriter, r *http.Request) {
	var req registerTokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, s.log, apierr.New(apierr.InvalidParams, "malformed request body"))
		return
	}
	addr, err := wire.ParseAddress(req.Address)
	if err != nil {
		writeError(w, s.log, apierr.Wrap(apierr.InvalidAddress, "malformed address", err))
		return
	}
	contract, err := wire.ParseAddress(req.Contract)
	if err != nil {
		writeError(w, s.log, apierr.Wrap(apierr.InvalidAddress, "malformed contract address", err))
		return
	}

	symbol, name, decimals, err := s.chain.ERC20Metadata(r.Context(), contract)
	if err != nil {
		writeError(w, s.log, apierr.Wrap(apierr.InvalidParams, "read token metadata", err))
		return
	}
	if err := s.store.RegisterToken(r.Context(), addr, contract, symbol, name, decimals); err != nil {
		writeError(w, s.log, apierr.Wrap(apierr.InternalError, "register token", err))
		return
	}

	if balance, err := s.chain.ERC20BalanceOf(r.Context(), contract, addr); err == nil {
		_ = s.store.UpsertTokenBalance(r.Context(), &domain.TokenBalance{
			EthAddress:      addr,
			ContractAddress: contract,
			Balance:         balance,
		})
	}

	writeJSON(w, http.StatusOK, struct{}{})
}

func (s *Server) handleDeregisterToken(w http.ResponseWriter, r *http.Request) {
	addr, err := wire.ParseAddress(r.URL.Query().Get("address"))
	if err != nil {
		writeError(w, s.log, apierr.Wrap(apierr.InvalidAddress, "malformed address", err))
		return
	}
	contract, err := wire.ParseAddress(chi.URLParam(r, "contract"))
	if err != nil {
		writeError(w, s.log, apierr.Wrap(apierr.InvalidAddress, "malformed contract address", err))
		return
	}
	if err := s.store.DeregisterToken(r.Context(), addr, contract); err != nil {
		writeError(w, s.log, apierr.Wrap(apierr.InternalError, "deregister token", err))
		return
	}
	writeJSON(w, http.StatusOK, struct{}{})
}
