package addrsub_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/gabapcia/coinconn/internal/addrsub"
	addrsubtest "github.com/gabapcia/coinconn/internal/addrsub/mocks"
	"github.com/gabapcia/coinconn/internal/connregistry"
	connregistrytest "github.com/gabapcia/coinconn/internal/connregistry/mocks"
	"github.com/gabapcia/coinconn/internal/pkg/logger"
	"github.com/gabapcia/coinconn/internal/pkg/x/future"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func init() {
	_ = logger.Init(logger.WithLevel("error"))
}

func newRegistry(t *testing.T, currencies ...connregistry.CurrencyID) (*connregistry.Registry, map[connregistry.CurrencyID]*connregistrytest.Connection) {
	t.Helper()

	coins := make([]connregistry.CoinServers, 0, len(currencies))
	for _, c := range currencies {
		coins = append(coins, connregistry.CoinServers{Currency: c, Endpoints: []string{"tcp://" + string(c) + ".example.com:50001"}})
	}

	factory, built := connregistrytest.Factory(t, nil)
	reg, err := connregistry.New(coins, factory)
	require.NoError(t, err)

	return reg, built
}

// addressOf is the address the test wallet derives for a position.
func addressOf(currency connregistry.CurrencyID, chain addrsub.Chain, index uint32) string {
	return fmt.Sprintf("%s/%s/%d", currency, chain, index)
}

// expectDerivations makes w derive addressOf for every position.
func expectDerivations(w *addrsubtest.Wallet) {
	w.EXPECT().AddressAt(mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		RunAndReturn(func(_ context.Context, currency connregistry.CurrencyID, chain addrsub.Chain, index uint32) (string, error) {
			return addressOf(currency, chain, index), nil
		})
}

func newWallet(t *testing.T) *addrsubtest.Wallet {
	t.Helper()

	w := addrsubtest.NewWallet(t)
	expectDerivations(w)
	return w
}

// acceptSubscriptions makes conn accept every address subscription.
func acceptSubscriptions(conn *connregistrytest.Connection) {
	conn.EXPECT().Subscribe(mock.Anything, addrsub.MethodSubscribe, mock.Anything, mock.Anything).
		Return(future.Resolved(json.RawMessage(`null`)))
}

func boundWallet(t *testing.T, w addrsub.Wallet) *addrsub.Binding {
	t.Helper()

	var b addrsub.Binding
	require.NoError(t, b.Bind(w))
	return &b
}

type activityRecorder struct {
	mu         sync.Mutex
	activities []addrsub.Activity
	err        error
}

func (r *activityRecorder) handle(_ context.Context, a addrsub.Activity) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.activities = append(r.activities, a)
}

func (r *activityRecorder) Publish(ctx context.Context, a addrsub.Activity) error {
	r.handle(ctx, a)
	return r.err
}

func (r *activityRecorder) all() []addrsub.Activity {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]addrsub.Activity(nil), r.activities...)
}

func TestService_SubscribeWindow(t *testing.T) {
	t.Run("should subscribe twenty external and twenty internal addresses", func(t *testing.T) {
		reg, conns := newRegistry(t, "bitcoin")
		acceptSubscriptions(conns["bitcoin"])
		svc := addrsub.New(reg, boundWallet(t, newWallet(t)))

		entries, err := svc.SubscribeWindow(t.Context(), "bitcoin")

		require.NoError(t, err)
		require.Len(t, entries, 40)

		subs := conns["bitcoin"].Subscriptions()
		require.Len(t, subs, 40)
		for i, sub := range subs {
			chain, index := addrsub.External, uint32(i)
			if i >= 20 {
				chain, index = addrsub.Internal, uint32(i-20)
			}

			assert.Equal(t, addrsub.MethodSubscribe, sub.Method)
			assert.Equal(t, []any{addressOf("bitcoin", chain, index)}, sub.Params)
			assert.Equal(t, chain, entries[i].Chain)
			assert.Equal(t, index, entries[i].Index)
		}

		assert.Len(t, svc.Entries("bitcoin"), 40)
	})

	t.Run("should isolate a failed subscription", func(t *testing.T) {
		reg, conns := newRegistry(t, "bitcoin")

		var calls atomic.Int32
		conns["bitcoin"].EXPECT().Subscribe(mock.Anything, addrsub.MethodSubscribe, mock.Anything, mock.Anything).
			RunAndReturn(func(context.Context, string, connregistry.NotificationHandler, ...any) *future.Future[json.RawMessage] {
				if calls.Add(1) == 5 {
					return future.Failed[json.RawMessage](errors.New("history too large"))
				}
				return future.Resolved(json.RawMessage(`"status"`))
			})
		svc := addrsub.New(reg, boundWallet(t, newWallet(t)))

		entries, err := svc.SubscribeWindow(t.Context(), "bitcoin")

		require.NoError(t, err)
		require.Len(t, entries, 40)

		var failed int
		for _, entry := range entries {
			_, replyErr, settled := entry.Reply.Peek()
			require.True(t, settled)
			if replyErr != nil {
				failed++
				assert.Equal(t, uint32(4), entry.Index)
				assert.Equal(t, addrsub.External, entry.Chain)
			}
		}
		assert.Equal(t, 1, failed)
	})

	t.Run("should isolate a failed derivation", func(t *testing.T) {
		reg, conns := newRegistry(t, "bitcoin")
		acceptSubscriptions(conns["bitcoin"])

		wallet := addrsubtest.NewWallet(t)
		wallet.EXPECT().AddressAt(mock.Anything, connregistry.CurrencyID("bitcoin"), addrsub.Internal, uint32(7)).
			Return("", errors.New("hardened derivation")).Once()
		expectDerivations(wallet)
		svc := addrsub.New(reg, boundWallet(t, wallet))

		entries, err := svc.SubscribeWindow(t.Context(), "bitcoin")

		require.NoError(t, err)
		require.Len(t, entries, 40)
		assert.Len(t, conns["bitcoin"].Subscriptions(), 39)

		failedEntry := entries[27]
		assert.Empty(t, failedEntry.Address)
		_, replyErr, settled := failedEntry.Reply.Peek()
		require.True(t, settled)
		assert.ErrorContains(t, replyErr, "hardened derivation")
	})

	t.Run("should honor the window size", func(t *testing.T) {
		reg, conns := newRegistry(t, "bitcoin")
		acceptSubscriptions(conns["bitcoin"])
		svc := addrsub.New(reg, boundWallet(t, newWallet(t)), addrsub.WithWindowSize(5))

		entries, err := svc.SubscribeWindow(t.Context(), "bitcoin")

		require.NoError(t, err)
		assert.Len(t, entries, 10)
		assert.Len(t, conns["bitcoin"].Subscriptions(), 10)
	})

	t.Run("should fail without a bound wallet", func(t *testing.T) {
		reg, conns := newRegistry(t, "bitcoin")
		svc := addrsub.New(reg, &addrsub.Binding{})

		entries, err := svc.SubscribeWindow(t.Context(), "bitcoin")

		assert.ErrorIs(t, err, addrsub.ErrWalletNotBound)
		assert.Nil(t, entries)
		assert.Empty(t, conns["bitcoin"].Subscriptions())
	})

	t.Run("should fail for an unknown currency", func(t *testing.T) {
		reg, _ := newRegistry(t, "bitcoin")
		svc := addrsub.New(reg, boundWallet(t, addrsubtest.NewWallet(t)))

		_, err := svc.SubscribeWindow(t.Context(), "dogecoin")

		assert.ErrorIs(t, err, connregistry.ErrUnknownCurrency)
	})
}

func TestService_Activity(t *testing.T) {
	t.Run("should hand notifications to the handler and the sink", func(t *testing.T) {
		reg, conns := newRegistry(t, "litecoin")
		acceptSubscriptions(conns["litecoin"])
		handler, sink := &activityRecorder{}, &activityRecorder{}
		svc := addrsub.New(reg, boundWallet(t, newWallet(t)),
			addrsub.WithActivityHandler(handler.handle),
			addrsub.WithActivitySink(sink),
		)

		_, err := svc.SubscribeWindow(t.Context(), "litecoin")
		require.NoError(t, err)

		address := addressOf("litecoin", addrsub.Internal, 3)
		payload := []json.RawMessage{json.RawMessage(`"` + address + `"`), json.RawMessage(`"f1e2d3"`)}
		delivered := conns["litecoin"].Notify(addrsub.MethodSubscribe, address, payload...)
		require.Equal(t, 1, delivered)

		want := addrsub.Activity{
			Currency: "litecoin",
			Chain:    addrsub.Internal,
			Index:    3,
			Address:  address,
			Payload:  payload,
		}
		assert.Equal(t, []addrsub.Activity{want}, handler.all())
		assert.Equal(t, []addrsub.Activity{want}, sink.all())
	})

	t.Run("should keep delivering when the sink fails", func(t *testing.T) {
		reg, conns := newRegistry(t, "litecoin")
		acceptSubscriptions(conns["litecoin"])
		handler := &activityRecorder{}
		sink := &activityRecorder{err: errors.New("redis down")}
		svc := addrsub.New(reg, boundWallet(t, newWallet(t)),
			addrsub.WithActivityHandler(handler.handle),
			addrsub.WithActivitySink(sink),
		)

		_, err := svc.SubscribeWindow(t.Context(), "litecoin")
		require.NoError(t, err)

		address := addressOf("litecoin", addrsub.External, 0)
		conns["litecoin"].Notify(addrsub.MethodSubscribe, address, json.RawMessage(`null`))
		conns["litecoin"].Notify(addrsub.MethodSubscribe, address, json.RawMessage(`"a1"`))

		assert.Len(t, handler.all(), 2)
	})

	t.Run("should log with the default handler", func(t *testing.T) {
		reg, conns := newRegistry(t, "litecoin")
		acceptSubscriptions(conns["litecoin"])
		svc := addrsub.New(reg, boundWallet(t, newWallet(t)))

		_, err := svc.SubscribeWindow(t.Context(), "litecoin")
		require.NoError(t, err)

		assert.NotPanics(t, func() {
			conns["litecoin"].Notify(addrsub.MethodSubscribe, addressOf("litecoin", addrsub.External, 1), json.RawMessage(`"a1"`))
		})
	})
}

func TestService_SubscribeAll(t *testing.T) {
	t.Run("should run a pass for every currency", func(t *testing.T) {
		reg, conns := newRegistry(t, "bitcoin", "litecoin")
		acceptSubscriptions(conns["bitcoin"])
		acceptSubscriptions(conns["litecoin"])
		svc := addrsub.New(reg, boundWallet(t, newWallet(t)))

		require.NoError(t, svc.SubscribeAll(t.Context()))

		assert.Len(t, conns["bitcoin"].Subscriptions(), 40)
		assert.Len(t, conns["litecoin"].Subscriptions(), 40)
	})

	t.Run("should fail without a bound wallet", func(t *testing.T) {
		reg, _ := newRegistry(t, "bitcoin")
		svc := addrsub.New(reg, &addrsub.Binding{})

		assert.ErrorIs(t, svc.SubscribeAll(t.Context()), addrsub.ErrWalletNotBound)
	})
}

func TestBinding(t *testing.T) {
	t.Run("should bind once", func(t *testing.T) {
		var b addrsub.Binding
		first, second := addrsubtest.NewWallet(t), addrsubtest.NewWallet(t)

		_, err := b.Wallet()
		assert.ErrorIs(t, err, addrsub.ErrWalletNotBound)

		require.NoError(t, b.Bind(first))
		assert.ErrorIs(t, b.Bind(second), addrsub.ErrWalletAlreadyBound)

		got, err := b.Wallet()
		require.NoError(t, err)
		assert.Same(t, first, got)
	})

	t.Run("should refuse a nil wallet", func(t *testing.T) {
		var b addrsub.Binding

		assert.ErrorIs(t, b.Bind(nil), addrsub.ErrNilWallet)
	})
}

func TestChain_String(t *testing.T) {
	assert.Equal(t, "external", addrsub.External.String())
	assert.Equal(t, "internal", addrsub.Internal.String())
	assert.Equal(t, "chain(7)", addrsub.Chain(7).String())
}
