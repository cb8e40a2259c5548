package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/toshi-network/eth-gateway/internal/apierr"
)

type errorEnvelope struct {
	Errors []errorItem `json:"errors"`
}

type errorItem struct {
	ID      string `json:"id"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// writeError renders err as the client-facing {errors:[...]} envelope,
// mapping an *apierr.Error to its designated status and any other error to
// an opaque 500 unexpected_error so internals never leak to the client.
func writeError(w http.ResponseWriter, log zerolog.Logger, err error) {
	var ae *apierr.Error
	if errors.As(err, &ae) {
		if ae.Cause != nil {
			log.Warn().Err(ae.Cause).Str("code", string(ae.Code)).Msg("request failed")
		}
		writeJSON(w, apierr.HTTPStatus(ae.Code), errorEnvelope{
			Errors: []errorItem{{ID: string(ae.Code), Message: ae.Message}},
		})
		return
	}
	log.Error().Err(err).Msg("unexpected error")
	writeJSON(w, http.StatusInternalServerError, errorEnvelope{
		Errors: []errorItem{{ID: string(apierr.UnexpectedError), Message: "unexpected error"}},
	})
}
