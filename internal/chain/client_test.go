package chain

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsKnownTxError(t *testing.T) {
	assert.True(t, IsKnownTxError(errors.New("Transaction nonce is too low")))
	assert.True(t, IsKnownTxError(errors.New("Transaction with the same hash was already imported")))
	assert.False(t, IsKnownTxError(errors.New("insufficient funds for gas * price + value")))
	assert.False(t, IsKnownTxError(nil))
}
