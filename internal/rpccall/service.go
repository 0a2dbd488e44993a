package rpccall

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/gabapcia/coinconn/internal/connregistry"
	"github.com/gabapcia/coinconn/internal/pkg/validator"
	"github.com/gabapcia/coinconn/internal/pkg/x/future"
)

const (
	MethodListUnspent = "blockchain.address.listunspent"
	MethodGetBalance  = "blockchain.address.get_balance"
	MethodGetHistory  = "blockchain.address.get_history"
)

// ErrUnexpectedReply is the cause of decode failures for replies that are not
// the expected JSON shape at all.
var ErrUnexpectedReply = errors.New("unexpected reply shape")

// UnspentOutput is one spendable output paying to an address.
type UnspentOutput struct {
	TxHash string `json:"tx_hash"` // transaction id as reported by the server
	TxPos  uint32 `json:"tx_pos"`  // output index within the transaction
	Value  int64  `json:"value"`   // signed amount in the coin's smallest unit
	Height int64  `json:"height"`  // confirmation height, 0 while in the mempool
}

// Balance is the amount held by an address.
type Balance struct {
	Confirmed   int64 `json:"confirmed"`
	Unconfirmed int64 `json:"unconfirmed"` // may be negative while spends are unconfirmed
}

// HistoryEntry is one transaction touching an address.
type HistoryEntry struct {
	TxHash string `json:"tx_hash"`
	Height int64  `json:"height"` // 0 or negative for mempool transactions
}

// Service is the typed call surface over the registered connections.
type Service interface {
	// Call issues any method and returns the raw reply.
	Call(ctx context.Context, currency connregistry.CurrencyID, method string, params ...any) *future.Future[json.RawMessage]

	// GetUnspentOutputs lists the unspent outputs of address. A single
	// malformed record fails the whole call with a decode CallError.
	GetUnspentOutputs(ctx context.Context, currency connregistry.CurrencyID, address string) *future.Future[[]UnspentOutput]

	// GetBalance returns the confirmed and unconfirmed balance of address.
	GetBalance(ctx context.Context, currency connregistry.CurrencyID, address string) *future.Future[Balance]

	// GetHistory returns the transactions touching address.
	GetHistory(ctx context.Context, currency connregistry.CurrencyID, address string) *future.Future[[]HistoryEntry]
}

type service struct {
	resolver Resolver
}

var _ Service = (*service)(nil)

func (s *service) Call(ctx context.Context, currency connregistry.CurrencyID, method string, params ...any) *future.Future[json.RawMessage] {
	return Invoke(ctx, s.resolver, currency, method, Raw, params...)
}

func (s *service) GetUnspentOutputs(ctx context.Context, currency connregistry.CurrencyID, address string) *future.Future[[]UnspentOutput] {
	return Invoke(ctx, s.resolver, currency, MethodListUnspent, DecodeUnspentOutputs, address)
}

func (s *service) GetBalance(ctx context.Context, currency connregistry.CurrencyID, address string) *future.Future[Balance] {
	return Invoke(ctx, s.resolver, currency, MethodGetBalance, DecodeBalance, address)
}

func (s *service) GetHistory(ctx context.Context, currency connregistry.CurrencyID, address string) *future.Future[[]HistoryEntry] {
	return Invoke(ctx, s.resolver, currency, MethodGetHistory, DecodeHistory, address)
}

// New creates the call adapter over resolver.
func New(resolver Resolver) *service {
	return &service{resolver: resolver}
}

type unspentOutputReply struct {
	TxHash *string `json:"tx_hash" validate:"required"`
	TxPos  *int64  `json:"tx_pos" validate:"required,min=0,max=4294967295"`
	Value  *int64  `json:"value" validate:"required"`
	Height *int64  `json:"height" validate:"required"`
}

type balanceReply struct {
	Confirmed   *int64 `json:"confirmed" validate:"required"`
	Unconfirmed *int64 `json:"unconfirmed" validate:"required"`
}

type historyEntryReply struct {
	TxHash *string `json:"tx_hash" validate:"required"`
	Height *int64  `json:"height" validate:"required"`
}

// decodeList unmarshals a JSON array and validates every element. It fails
// on the first invalid element so no partial list is ever returned.
func decodeList[R any](raw json.RawMessage) ([]R, error) {
	var replies []R
	if err := json.Unmarshal(raw, &replies); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnexpectedReply, err)
	}

	if replies == nil {
		return nil, fmt.Errorf("%w: expected a list, got %s", ErrUnexpectedReply, string(raw))
	}

	for i := range replies {
		if err := validator.Validate(replies[i]); err != nil {
			return nil, fmt.Errorf("record %d: %w", i, err)
		}
	}

	return replies, nil
}

// DecodeUnspentOutputs decodes a listunspent reply.
func DecodeUnspentOutputs(raw json.RawMessage) ([]UnspentOutput, error) {
	replies, err := decodeList[unspentOutputReply](raw)
	if err != nil {
		return nil, err
	}

	outputs := make([]UnspentOutput, 0, len(replies))
	for _, r := range replies {
		outputs = append(outputs, UnspentOutput{
			TxHash: *r.TxHash,
			TxPos:  uint32(*r.TxPos),
			Value:  *r.Value,
			Height: *r.Height,
		})
	}

	return outputs, nil
}

// DecodeBalance decodes a get_balance reply.
func DecodeBalance(raw json.RawMessage) (Balance, error) {
	var reply *balanceReply
	if err := json.Unmarshal(raw, &reply); err != nil {
		return Balance{}, fmt.Errorf("%w: %w", ErrUnexpectedReply, err)
	}

	if reply == nil {
		return Balance{}, fmt.Errorf("%w: expected an object, got %s", ErrUnexpectedReply, string(raw))
	}

	if err := validator.Validate(reply); err != nil {
		return Balance{}, err
	}

	return Balance{Confirmed: *reply.Confirmed, Unconfirmed: *reply.Unconfirmed}, nil
}

// DecodeHistory decodes a get_history reply.
func DecodeHistory(raw json.RawMessage) ([]HistoryEntry, error) {
	replies, err := decodeList[historyEntryReply](raw)
	if err != nil {
		return nil, err
	}

	entries := make([]HistoryEntry, 0, len(replies))
	for _, r := range replies {
		entries = append(entries, HistoryEntry{TxHash: *r.TxHash, Height: *r.Height})
	}

	return entries, nil
}
