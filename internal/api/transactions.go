package api

import (
	"encoding/json"
	"math/big"
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/go-chi/chi/v5"

	"github.com/toshi-network/eth-gateway/internal/apierr"
	"github.com/toshi-network/eth-gateway/internal/intake"
	"github.com/toshi-network/eth-gateway/internal/wire"
)

type skeletonRequest struct {
	From     string `json:"from"`
	To       string `json:"to"`
	Value    string `json:"value"`
	Nonce    string `json:"nonce"`
	Gas      string `json:"gas"`
	GasPrice string `json:"gasPrice"`
	Data     string `json:"data"`
}

type skeletonResponse struct {
	Tx string `json:"tx"`
}

func (s *Server) handleBuildSkeleton(w http.ResponseWriter, r *http.Request) {
	var req skeletonRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, s.log, apierr.New(apierr.InvalidParams, "malformed request body"))
		return
	}

	tx, err := s.intake.BuildSkeleton(r.Context(), intake.SkeletonRequest{
		From: req.From, To: req.To, Value: req.Value,
		Nonce: req.Nonce, Gas: req.Gas, GasPrice: req.GasPrice, Data: req.Data,
	})
	if err != nil {
		writeError(w, s.log, err)
		return
	}

	encoded, err := tx.MarshalBinary()
	if err != nil {
		writeError(w, s.log, apierr.Wrap(apierr.InternalError, "encode skeleton", err))
		return
	}
	writeJSON(w, http.StatusOK, skeletonResponse{Tx: wire.HexBytes(encoded)})
}

type submitRequest struct {
	Tx        string `json:"tx"`
	Signature string `json:"signature"`
	From      string `json:"from"`
}

type submitResponse struct {
	TxHash string `json:"tx_hash"`
}

func (s *Server) handleSubmitTransaction(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, s.log, apierr.New(apierr.InvalidParams, "malformed request body"))
		return
	}

	from, err := wire.ParseAddress(req.From)
	if err != nil {
		writeError(w, s.log, apierr.Wrap(apierr.InvalidAddress, "malformed from address", err))
		return
	}
	sig, err := wire.ParseData(req.Signature)
	if err != nil {
		writeError(w, s.log, apierr.Wrap(apierr.InvalidSignature, apierr.SigInvalidHex, err))
		return
	}

	tokenID := authenticatedTokenID(r)
	row, err := s.intake.SubmitSignedTransaction(r.Context(), req.Tx, sig, from, tokenID)
	if err != nil {
		writeError(w, s.log, err)
		return
	}
	writeJSON(w, http.StatusOK, submitResponse{TxHash: row.Hash.Hex()})
}

// authenticatedTokenID stands in for the out-of-scope auth layer: the
// identity would normally come from a verified session, not the request.
func authenticatedTokenID(r *http.Request) *string {
	v := r.Header.Get("X-Client-Token")
	if v == "" {
		return nil
	}
	return &v
}

type transactionResponse struct {
	Hash     string `json:"hash"`
	From     string `json:"from"`
	To       string `json:"to"`
	Value    string `json:"value"`
	Gas      string `json:"gas"`
	GasPrice string `json:"gasPrice"`
	Nonce    string `json:"nonce"`
	Input    string `json:"input"`
}

// handleGetTransaction reflects the node's own view, not the local store:
// a transaction admitted but not yet visible to the node returns 404.
func (s *Server) handleGetTransaction(w http.ResponseWriter, r *http.Request) {
	hashHex := chi.URLParam(r, "hash")
	hash, err := wire.ParseData(hashHex)
	if err != nil || len(hash) != 32 {
		writeError(w, s.log, apierr.New(apierr.InvalidParams, "malformed transaction hash"))
		return
	}

	tx, found, err := s.chain.TransactionByHash(r.Context(), common.BytesToHash(hash))
	if err != nil {
		writeError(w, s.log, apierr.Wrap(apierr.InternalError, "look up transaction", err))
		return
	}
	if !found {
		writeError(w, s.log, apierr.New(apierr.NotFound, "transaction not found"))
		return
	}

	writeJSON(w, http.StatusOK, s.renderTransaction(tx))
}

func (s *Server) renderTransaction(tx *types.Transaction) transactionResponse {
	to := ""
	if tx.To() != nil {
		to = tx.To().Hex()
	}
	from := ""
	signer := types.NewEIP155Signer(big.NewInt(s.networkID))
	if sender, err := types.Sender(signer, tx); err == nil {
		from = sender.Hex()
	}
	return transactionResponse{
		Hash:     tx.Hash().Hex(),
		From:     from,
		To:       to,
		Value:    wire.HexBigInt(tx.Value()),
		Gas:      wire.HexUint64(tx.Gas()),
		GasPrice: wire.HexBigInt(tx.GasPrice()),
		Nonce:    wire.HexUint64(tx.Nonce()),
		Input:    wire.HexBytes(tx.Data()),
	}
}
