package api

import (
	"encoding/json"
	"errors"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/toshi-network/eth-gateway/internal/apierr"
)

func TestWriteErrorRendersApierrEnvelope(t *testing.T) {
	rec := httptest.NewRecorder()
	writeError(rec, zerolog.Nop(), apierr.New(apierr.InvalidAddress, "malformed from address"))

	assert.Equal(t, 400, rec.Code)
	var body errorEnvelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Errors, 1)
	assert.Equal(t, string(apierr.InvalidAddress), body.Errors[0].ID)
}

func TestWriteErrorFallsBackToUnexpectedError(t *testing.T) {
	rec := httptest.NewRecorder()
	writeError(rec, zerolog.Nop(), errors.New("boom"))

	assert.Equal(t, 500, rec.Code)
	var body errorEnvelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Errors, 1)
	assert.Equal(t, string(apierr.UnexpectedError), body.Errors[0].ID)
}

func TestWriteErrorMapsInternalErrorTo500(t *testing.T) {
	rec := httptest.NewRecorder()
	writeError(rec, zerolog.Nop(), apierr.Wrap(apierr.InternalError, "node unreachable", errors.New("dial failed")))

	assert.Equal(t, 500, rec.Code)
}

func TestWriteErrorMapsNotFoundTo404(t *testing.T) {
	rec := httptest.NewRecorder()
	writeError(rec, zerolog.Nop(), apierr.New(apierr.NotFound, "transaction not found"))

	assert.Equal(t, 404, rec.Code)
	var body errorEnvelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Errors, 1)
	assert.Equal(t, string(apierr.NotFound), body.Errors[0].ID)
}
