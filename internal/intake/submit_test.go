package intake

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"

	"github.com/toshi-network/eth-gateway/internal/domain"
)

func signedTestTx(t *testing.T) (*types.Transaction, *types.Transaction) {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)

	unsigned := types.NewTx(&types.LegacyTx{
		Nonce:    3,
		To:       nil,
		Value:    big.NewInt(0),
		Gas:      21000,
		GasPrice: big.NewInt(1_000_000_000),
		Data:     []byte{0xde, 0xad, 0xbe, 0xef},
	})
	signed, err := types.SignTx(unsigned, types.NewEIP155Signer(big.NewInt(1)), key)
	require.NoError(t, err)
	return unsigned, signed
}

func TestHasSignatureDistinguishesUnsignedFromSigned(t *testing.T) {
	unsigned, signed := signedTestTx(t)
	require.False(t, hasSignature(unsigned))
	require.True(t, hasSignature(signed))
}

func TestToAddressOfUsesContractCreationSentinelForNilTo(t *testing.T) {
	_, signed := signedTestTx(t)
	require.Equal(t, domain.ContractCreationAddress, toAddressOf(signed))

	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	to := crypto.PubkeyToAddress(key.PublicKey)
	withTo := types.NewTx(&types.LegacyTx{Nonce: 0, To: &to, Value: big.NewInt(0), Gas: 21000, GasPrice: big.NewInt(1)})
	require.Equal(t, to, toAddressOf(withTo))
}

func TestSignatureOfExtractsRawValues(t *testing.T) {
	_, signed := signedTestTx(t)
	sig := signatureOf(signed)
	v, r, s := signed.RawSignatureValues()
	require.Equal(t, v, sig.V)
	require.Equal(t, r, sig.R)
	require.Equal(t, s, sig.S)
}
