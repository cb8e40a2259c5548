package monitor

import (
	"context"
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/toshi-network/eth-gateway/internal/domain"
	"github.com/toshi-network/eth-gateway/internal/erc20"
	"github.com/toshi-network/eth-gateway/internal/store"
)

// ingestLog recognizes a Transfer/Deposit/Withdrawal log, resolves (or
// creates) the UUID-keyed parent transaction row the transfer belongs to,
// upserts the token-transfer row keyed by that parent, and recomputes the
// balance of every tracked side. It returns the addresses whose balance
// changed so the caller can retrigger anything waiting on them.
func (m *Monitor) ingestLog(ctx context.Context, lg types.Log, blockNumber uint64) ([]common.Address, error) {
	from, to, value, err := decode(lg)
	if err != nil || from == nil {
		return nil, err
	}

	parent, created, err := m.resolveParentTransaction(ctx, lg.TxHash, blockNumber)
	if err != nil {
		return nil, err
	}

	tt := &domain.TokenTransfer{
		TransactionID:       parent.TransactionID,
		TransactionLogIndex: int(lg.Index),
		ContractAddress:     lg.Address,
		FromAddress:         *from,
		ToAddress:           *to,
		Value:               value,
		Status:              domain.StatusConfirmed,
	}
	if err := m.store.UpsertTokenTransfer(ctx, tt); err != nil {
		return nil, err
	}

	if created && m.notifier != nil {
		m.notifier.NotifyAsync(parent, domain.StatusNew)
	}

	var touched []common.Address
	for _, addr := range []common.Address{*from, *to} {
		changed, err := m.recomputeBalance(ctx, addr, lg.Address)
		if err != nil {
			return nil, err
		}
		if changed {
			touched = append(touched, addr)
		}
	}
	return touched, nil
}

// resolveParentTransaction looks up the transactions row for hash. If the
// transfer originated from a transaction this gateway never submitted
// itself (no row exists), it creates a synthetic confirmed parent row from
// the node's own view of that transaction so the token transfer has a
// UUID-keyed parent to join against, matching an externally-originated
// Deposit/Withdrawal/Transfer to a gateway-tracked address.
func (m *Monitor) resolveParentTransaction(ctx context.Context, hash common.Hash, blockNumber uint64) (*domain.Transaction, bool, error) {
	row, err := m.store.GetByHash(ctx, hash)
	if err == nil {
		return row, false, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, false, err
	}

	tx, found, err := m.chain.TransactionByHash(ctx, hash)
	if err != nil {
		return nil, false, err
	}
	if !found {
		return nil, false, errors.New("synthetic parent: node does not know transaction " + hash.Hex())
	}

	sender, err := m.recoverSender(ctx, tx)
	if err != nil {
		return nil, false, err
	}

	to := domain.ContractCreationAddress
	if tx.To() != nil {
		to = *tx.To()
	}
	synthetic := &domain.Transaction{
		Hash:        hash,
		FromAddress: sender,
		ToAddress:   to,
		Nonce:       tx.Nonce(),
		Value:       tx.Value(),
		Gas:         tx.Gas(),
		GasPrice:    effectiveGasPrice(tx),
		Data:        tx.Data(),
		Status:      domain.StatusConfirmed,
		BlockNumber: &blockNumber,
	}
	if err := m.store.InsertTransaction(ctx, synthetic); err != nil {
		return nil, false, err
	}
	return synthetic, true, nil
}

// effectiveGasPrice returns a non-nil gas price for any transaction type:
// legacy transactions carry one directly, dynamic-fee transactions only
// carry a gas fee cap, which synthetic rows record in its place since the
// actual paid price depends on the block's base fee this gateway doesn't
// track for transactions it didn't submit.
func effectiveGasPrice(tx *types.Transaction) *big.Int {
	if p := tx.GasPrice(); p != nil {
		return p
	}
	return tx.GasFeeCap()
}

// recomputeBalance re-reads addr's on-chain balance of contract and
// persists it, but only for addresses some client has already registered
// interest in — the monitor never starts tracking a balance on its own.
func (m *Monitor) recomputeBalance(ctx context.Context, addr, contract common.Address) (bool, error) {
	tracked, err := m.store.HasTrackedBalance(ctx, addr, contract)
	if err != nil {
		return false, err
	}
	if !tracked {
		return false, nil
	}
	balance, err := m.chain.ERC20BalanceOf(ctx, contract, addr)
	if err != nil {
		return false, err
	}
	if err := m.store.UpsertTokenBalance(ctx, &domain.TokenBalance{
		EthAddress:      addr,
		ContractAddress: contract,
		Balance:         balance,
	}); err != nil {
		return false, err
	}
	return true, nil
}

// decode recognizes which of the three tracked event shapes lg is and
// extracts a uniform (from, to, value) view: WETH's Deposit looks like a
// transfer from the zero address, Withdrawal like a transfer to it.
func decode(lg types.Log) (from, to *common.Address, value *big.Int, err error) {
	if len(lg.Topics) == 0 {
		return nil, nil, nil, nil
	}
	switch lg.Topics[0] {
	case erc20.TransferTopic:
		if len(lg.Topics) < 3 {
			return nil, nil, nil, nil
		}
		v, err := erc20.DecodeTransferValue(lg.Data)
		if err != nil {
			return nil, nil, nil, err
		}
		f := erc20.DecodeSingleAddress(lg.Topics[1])
		t := erc20.DecodeSingleAddress(lg.Topics[2])
		return &f, &t, v, nil
	case erc20.DepositTopic:
		if len(lg.Topics) < 2 {
			return nil, nil, nil, nil
		}
		v, err := erc20.DecodeWadValue("Deposit", lg.Data)
		if err != nil {
			return nil, nil, nil, err
		}
		t := erc20.DecodeSingleAddress(lg.Topics[1])
		zero := common.Address{}
		return &zero, &t, v, nil
	case erc20.WithdrawalTopic:
		if len(lg.Topics) < 2 {
			return nil, nil, nil, nil
		}
		v, err := erc20.DecodeWadValue("Withdrawal", lg.Data)
		if err != nil {
			return nil, nil, nil, err
		}
		f := erc20.DecodeSingleAddress(lg.Topics[1])
		zero := common.Address{}
		return &f, &zero, v, nil
	default:
		return nil, nil, nil, nil
	}
}
