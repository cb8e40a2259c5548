package intake

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCheckIntrinsicGasAcceptsSufficientLimit(t *testing.T) {
	err := checkIntrinsicGas(nil, false, 21000)
	require.NoError(t, err)
}

func TestCheckIntrinsicGasRejectsTooLowForData(t *testing.T) {
	data := []byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08}
	err := checkIntrinsicGas(data, false, 21000)
	require.Error(t, err)
}

func TestCheckIntrinsicGasAccountsForContractCreationFloor(t *testing.T) {
	err := checkIntrinsicGas(nil, true, 21000)
	require.Error(t, err)

	err = checkIntrinsicGas(nil, true, 53000)
	require.NoError(t, err)
}
