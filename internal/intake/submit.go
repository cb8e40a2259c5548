package intake

import (
	"context"
	"errors"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/toshi-network/eth-gateway/internal/apierr"
	"github.com/toshi-network/eth-gateway/internal/domain"
	"github.com/toshi-network/eth-gateway/internal/store"
	"github.com/toshi-network/eth-gateway/internal/wire"
)

// signerOnce lazily resolves the EIP-155 signer from the node's chain ID,
// since the chain ID is not known until the first RPC round trip.
type signerOnce struct {
	once   sync.Once
	signer types.Signer
	err    error
}

func (ix *Intake) signer(ctx context.Context) (types.Signer, error) {
	ix.signerInit.once.Do(func() {
		id, err := ix.chain.ChainID(ctx)
		if err != nil {
			ix.signerInit.err = err
			return
		}
		ix.signerInit.signer = types.NewEIP155Signer(id)
	})
	return ix.signerInit.signer, ix.signerInit.err
}

// SubmitSignedTransaction admits an envelope the client has signed (or
// signed separately, attaching sig). claimedFrom is the identity the client
// asserts owns the transaction; it must match the recovered signer.
// senderTokenID is the authenticated client identity, which may differ from
// claimedFrom (a custodial wallet submitting on a user's behalf).
func (ix *Intake) SubmitSignedTransaction(ctx context.Context, rawTxHex string, sig []byte, claimedFrom common.Address, senderTokenID *string) (*domain.Transaction, error) {
	signer, err := ix.signer(ctx)
	if err != nil {
		return nil, apierr.Wrap(apierr.InternalError, "resolve chain signer", err)
	}

	txBytes, err := wire.ParseData(rawTxHex)
	if err != nil || txBytes == nil {
		return nil, apierr.New(apierr.InvalidTransaction, "malformed transaction envelope")
	}
	tx := new(types.Transaction)
	if err := tx.UnmarshalBinary(txBytes); err != nil {
		return nil, apierr.Wrap(apierr.InvalidTransaction, "decode transaction envelope", err)
	}

	if !hasSignature(tx) {
		if len(sig) != 65 {
			return nil, apierr.New(apierr.MissingSignature, apierr.SigInvalidLength)
		}
		tx, err = tx.WithSignature(signer, sig)
		if err != nil {
			return nil, apierr.Wrap(apierr.InvalidSignature, apierr.SigInvalidHex, err)
		}
	}

	from, err := types.Sender(signer, tx)
	if err != nil {
		return nil, apierr.Wrap(apierr.InvalidSignature, "recover sender", err)
	}
	if from != claimedFrom {
		return nil, apierr.New(apierr.InvalidSignature, apierr.SigSenderMismatch)
	}

	nonce := tx.Nonce()
	ttl := ix.cfg.SubmissionLockTTL
	locked, err := ix.cache.AcquireSubmission(ctx, from.Hex(), nonce, ttl)
	if err != nil {
		return nil, apierr.Wrap(apierr.InternalError, "acquire submission lock", err)
	}
	if !locked {
		return nil, apierr.New(apierr.InvalidNonce, apierr.NonceAlreadyUsed)
	}
	defer func() { _ = ix.cache.ReleaseSubmission(ctx, from.Hex(), nonce) }()

	if _, err := ix.store.ActiveAtNonce(ctx, from, nonce); err == nil {
		return nil, apierr.New(apierr.InvalidNonce, apierr.NonceAlreadyUsed)
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, apierr.Wrap(apierr.InternalError, "check existing row at nonce", err)
	}

	value := tx.Value()
	gas := tx.Gas()
	gasPrice := tx.GasPrice()
	cost := new(big.Int).Add(value, new(big.Int).Mul(new(big.Int).SetUint64(gas), gasPrice))

	available, err := ix.availableBalance(ctx, from)
	if err != nil {
		return nil, err
	}
	if cost.Cmp(available) > 0 {
		return nil, apierr.New(apierr.InsufficientFunds, "value plus fees exceeds available balance")
	}

	expected, err := ix.nextNonce(ctx, from)
	if err != nil {
		return nil, err
	}
	if nonce < expected {
		return nil, apierr.New(apierr.InvalidNonce, apierr.NonceTooLow)
	}
	if nonce > expected {
		return nil, apierr.New(apierr.InvalidNonce, apierr.NonceTooHigh)
	}

	if err := ix.chain.SendRawTransaction(ctx, tx); err != nil {
		return nil, apierr.Wrap(apierr.InternalError, "send raw transaction", err)
	}

	if err := ix.cache.SetNonceHint(ctx, from.Hex(), nonce+1); err != nil {
		ix.log.Warn().Err(err).Str("from", from.Hex()).Msg("failed to advance cached nonce hint")
	}

	row := &domain.Transaction{
		Hash:          tx.Hash(),
		FromAddress:   from,
		ToAddress:     toAddressOf(tx),
		Nonce:         nonce,
		Value:         value,
		Gas:           gas,
		GasPrice:      gasPrice,
		Data:          tx.Data(),
		Signature:     signatureOf(tx),
		Status:        domain.StatusUnconfirmed,
		SenderTokenID: senderTokenID,
	}
	if err := ix.store.InsertTransaction(ctx, row); err != nil {
		return nil, apierr.Wrap(apierr.InternalError, "persist transaction", err)
	}

	if ix.notifier != nil {
		ix.notifier.NotifyAsync(row, domain.StatusNew)
	}
	if ix.queue != nil && !row.IsContractCreation() {
		ix.queue.Trigger(row.ToAddress)
	}

	return row, nil
}

func hasSignature(tx *types.Transaction) bool {
	v, r, s := tx.RawSignatureValues()
	return r != nil && r.Sign() != 0 && s != nil && s.Sign() != 0 && v != nil
}

func toAddressOf(tx *types.Transaction) common.Address {
	if tx.To() == nil {
		return domain.ContractCreationAddress
	}
	return *tx.To()
}

func signatureOf(tx *types.Transaction) *domain.Signature {
	v, r, s := tx.RawSignatureValues()
	return &domain.Signature{V: v, R: r, S: s}
}

