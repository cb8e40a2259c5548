package monitor

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/toshi-network/eth-gateway/internal/domain"
	"github.com/toshi-network/eth-gateway/internal/erc20"
	"github.com/toshi-network/eth-gateway/internal/store"
)

// fakeChain implements ChainReader with just enough behavior for the
// ingestLog tests: a fixed chain ID and a single transaction lookup result.
type fakeChain struct {
	chainID          *big.Int
	txByHash         *types.Transaction
	txByHashFound    bool
	txByHashCalled   int
	erc20BalanceCall int
}

func (f *fakeChain) BlockNumber(ctx context.Context) (uint64, error) { return 0, nil }
func (f *fakeChain) BlockByNumber(ctx context.Context, num *big.Int) (*types.Block, error) {
	return nil, nil
}
func (f *fakeChain) FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	return nil, nil
}
func (f *fakeChain) ERC20BalanceOf(ctx context.Context, contract, owner common.Address) (*big.Int, error) {
	f.erc20BalanceCall++
	return big.NewInt(0), nil
}
func (f *fakeChain) TransactionByHash(ctx context.Context, hash common.Hash) (*types.Transaction, bool, error) {
	f.txByHashCalled++
	return f.txByHash, f.txByHashFound, nil
}
func (f *fakeChain) ChainID(ctx context.Context) (*big.Int, error) { return f.chainID, nil }

type recordingNotifier struct {
	calls []*domain.Transaction
}

func (n *recordingNotifier) NotifyAsync(tx *domain.Transaction, prevStatus domain.Status) {
	n.calls = append(n.calls, tx)
}

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.NewSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func transferLog(from, to common.Address, txHash common.Hash, value *big.Int) types.Log {
	data := common.LeftPadBytes(value.Bytes(), 32)
	return types.Log{
		Topics:  []common.Hash{erc20.TransferTopic, topicFromAddress(from), topicFromAddress(to)},
		Data:    data,
		TxHash:  txHash,
		Address: common.HexToAddress("0xcccccccccccccccccccccccccccccccccccccccc"),
	}
}

func TestIngestLogJoinsExistingTrackedParent(t *testing.T) {
	s := newTestStore(t)
	from := common.HexToAddress("0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")
	to := common.HexToAddress("0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb")
	txHash := common.HexToHash("0x01")

	parent := &domain.Transaction{
		Hash:        txHash,
		FromAddress: from,
		ToAddress:   common.HexToAddress("0xcccccccccccccccccccccccccccccccccccccccc"),
		Value:       big.NewInt(0),
		GasPrice:    big.NewInt(1),
		Status:      domain.StatusConfirmed,
	}
	require.NoError(t, s.InsertTransaction(context.Background(), parent))

	ch := &fakeChain{chainID: big.NewInt(1)}
	notifier := &recordingNotifier{}
	m := New(ch, s, notifier, nil, Config{}, zerolog.Nop())

	lg := transferLog(from, to, txHash, big.NewInt(42))
	_, err := m.ingestLog(context.Background(), lg, 10)
	require.NoError(t, err)

	assert.Equal(t, 0, ch.txByHashCalled, "an already-tracked parent must not trigger a chain lookup")
	assert.Empty(t, notifier.calls, "joining an existing parent should not fire a synthetic-creation notification")

	transfers, err := s.TokenTransfersByTransaction(context.Background(), parent.TransactionID)
	require.NoError(t, err)
	require.Len(t, transfers, 1)
	assert.Equal(t, parent.TransactionID, transfers[0].TransactionID)
}

func TestIngestLogCreatesSyntheticParentForExternalTransfer(t *testing.T) {
	s := newTestStore(t)

	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	sender := crypto.PubkeyToAddress(key.PublicKey)
	to := common.HexToAddress("0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb")

	unsigned := types.NewTx(&types.LegacyTx{
		Nonce:    0,
		To:       &to,
		Value:    big.NewInt(0),
		Gas:      21000,
		GasPrice: big.NewInt(1_000_000_000),
	})
	signer := types.LatestSignerForChainID(big.NewInt(1))
	signed, err := types.SignTx(unsigned, signer, key)
	require.NoError(t, err)

	ch := &fakeChain{chainID: big.NewInt(1), txByHash: signed, txByHashFound: true}
	notifier := &recordingNotifier{}
	m := New(ch, s, notifier, nil, Config{}, zerolog.Nop())

	recipient := common.HexToAddress("0xdddddddddddddddddddddddddddddddddddddddd")
	lg := transferLog(sender, recipient, signed.Hash(), big.NewInt(7))
	_, err = m.ingestLog(context.Background(), lg, 99)
	require.NoError(t, err)

	assert.Equal(t, 1, ch.txByHashCalled)
	require.Len(t, notifier.calls, 1, "a newly-created synthetic parent must be notified")

	row, err := s.GetByHash(context.Background(), signed.Hash())
	require.NoError(t, err)
	assert.NotEmpty(t, row.TransactionID)
	assert.Equal(t, sender, row.FromAddress)
	assert.Equal(t, domain.StatusConfirmed, row.Status)

	transfers, err := s.TokenTransfersByTransaction(context.Background(), row.TransactionID)
	require.NoError(t, err)
	require.Len(t, transfers, 1)
}

func TestIngestLogReturnsErrorWhenNodeDoesNotKnowExternalTransaction(t *testing.T) {
	s := newTestStore(t)
	from := common.HexToAddress("0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")
	to := common.HexToAddress("0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb")

	ch := &fakeChain{chainID: big.NewInt(1), txByHashFound: false}
	m := New(ch, s, &recordingNotifier{}, nil, Config{}, zerolog.Nop())

	lg := transferLog(from, to, common.HexToHash("0x02"), big.NewInt(1))
	_, err := m.ingestLog(context.Background(), lg, 5)
	require.Error(t, err)
}

func topicFromAddress(addr common.Address) common.Hash {
	return common.BytesToHash(addr.Bytes())
}

func TestDecodeTransfer(t *testing.T) {
	from := common.HexToAddress("0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")
	to := common.HexToAddress("0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb")
	data, err := erc20Pack(t, big.NewInt(42))
	require.NoError(t, err)

	lg := types.Log{
		Topics: []common.Hash{erc20.TransferTopic, topicFromAddress(from), topicFromAddress(to)},
		Data:   data,
	}

	gotFrom, gotTo, value, err := decode(lg)
	require.NoError(t, err)
	require.NotNil(t, gotFrom)
	require.NotNil(t, gotTo)
	assert.Equal(t, from, *gotFrom)
	assert.Equal(t, to, *gotTo)
	assert.Equal(t, big.NewInt(42).String(), value.String())
}

func TestDecodeDepositLooksLikeTransferFromZero(t *testing.T) {
	dst := common.HexToAddress("0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb")
	data, err := erc20WadPack(t, big.NewInt(7))
	require.NoError(t, err)

	lg := types.Log{
		Topics: []common.Hash{erc20.DepositTopic, topicFromAddress(dst)},
		Data:   data,
	}

	from, to, value, err := decode(lg)
	require.NoError(t, err)
	assert.Equal(t, common.Address{}, *from)
	assert.Equal(t, dst, *to)
	assert.Equal(t, big.NewInt(7).String(), value.String())
}

func TestDecodeUnknownTopicIsIgnored(t *testing.T) {
	lg := types.Log{Topics: []common.Hash{common.HexToHash("0xdead")}}
	from, to, value, err := decode(lg)
	require.NoError(t, err)
	assert.Nil(t, from)
	assert.Nil(t, to)
	assert.Nil(t, value)
}

// erc20Pack/erc20WadPack re-encode event data the same way the real ABI
// would, for test inputs only.
func erc20Pack(t *testing.T, value *big.Int) ([]byte, error) {
	t.Helper()
	padded := common.LeftPadBytes(value.Bytes(), 32)
	return padded, nil
}

func erc20WadPack(t *testing.T, value *big.Int) ([]byte, error) {
	t.Helper()
	padded := common.LeftPadBytes(value.Bytes(), 32)
	return padded, nil
}
