package rpccall

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/gabapcia/coinconn/internal/connregistry"
	connregistrytest "github.com/gabapcia/coinconn/internal/connregistry/mocks"
	"github.com/gabapcia/coinconn/internal/pkg/validator"
	"github.com/gabapcia/coinconn/internal/pkg/x/future"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var (
	hashA = strings.Repeat("a", 64)
	hashB = strings.Repeat("b", 64)
	hashC = strings.Repeat("c", 64)
)

func newService(t *testing.T) (*service, *connregistrytest.Connection) {
	t.Helper()

	factory, built := connregistrytest.Factory(t, nil)
	reg, err := connregistry.New([]connregistry.CoinServers{
		{Currency: "bitcoin", Endpoints: []string{"tcp://electrum.example.com:50001"}},
	}, factory)
	require.NoError(t, err)

	return New(reg), built["bitcoin"]
}

func reply(raw string) *future.Future[json.RawMessage] {
	return future.Resolved(json.RawMessage(raw))
}

func TestService_GetUnspentOutputs(t *testing.T) {
	t.Run("should decode every record in order", func(t *testing.T) {
		svc, conn := newService(t)
		conn.EXPECT().Call(mock.Anything, MethodListUnspent, "1BoatSLRHtKNngkdXEeobR76b53LETtpyT").Return(reply(`[
			{"tx_hash":"` + hashA + `","tx_pos":0,"value":1000,"height":100},
			{"tx_hash":"` + hashB + `","tx_pos":3,"value":25000,"height":0},
			{"tx_hash":"` + hashC + `","tx_pos":1,"value":7,"height":812345}
		]`)).Once()

		outputs, err := svc.GetUnspentOutputs(t.Context(), "bitcoin", "1BoatSLRHtKNngkdXEeobR76b53LETtpyT").Await(t.Context())

		require.NoError(t, err)
		assert.Equal(t, []UnspentOutput{
			{TxHash: hashA, TxPos: 0, Value: 1000, Height: 100},
			{TxHash: hashB, TxPos: 3, Value: 25000, Height: 0},
			{TxHash: hashC, TxPos: 1, Value: 7, Height: 812345},
		}, outputs)
	})

	t.Run("should resolve an empty list", func(t *testing.T) {
		svc, conn := newService(t)
		conn.EXPECT().Call(mock.Anything, MethodListUnspent, "addr").Return(reply(`[]`)).Once()

		outputs, err := svc.GetUnspentOutputs(t.Context(), "bitcoin", "addr").Await(t.Context())

		require.NoError(t, err)
		assert.Empty(t, outputs)
	})

	t.Run("should fail the whole call when one record misses a field", func(t *testing.T) {
		svc, conn := newService(t)
		conn.EXPECT().Call(mock.Anything, MethodListUnspent, "addr").Return(reply(`[
			{"tx_hash":"` + hashA + `","tx_pos":0,"value":1000,"height":100},
			{"tx_hash":"` + hashB + `","tx_pos":3,"value":25000},
			{"tx_hash":"` + hashC + `","tx_pos":1,"value":7,"height":812345}
		]`)).Once()

		outputs, err := svc.GetUnspentOutputs(t.Context(), "bitcoin", "addr").Await(t.Context())

		assert.Nil(t, outputs)
		require.ErrorIs(t, err, ErrCall)
		assert.ErrorIs(t, err, validator.ErrValidationFailed)

		var callErr *CallError
		require.ErrorAs(t, err, &callErr)
		assert.Equal(t, KindDecode, callErr.Kind)
		assert.Equal(t, connregistry.CurrencyID("bitcoin"), callErr.Currency)
		assert.Equal(t, MethodListUnspent, callErr.Method)
	})

	t.Run("should reject records with wrong field types", func(t *testing.T) {
		svc, conn := newService(t)
		conn.EXPECT().Call(mock.Anything, MethodListUnspent, "addr").Return(reply(`[{"tx_hash":"` + hashA + `","tx_pos":"zero","value":1000,"height":100}]`)).Once()

		_, err := svc.GetUnspentOutputs(t.Context(), "bitcoin", "addr").Await(t.Context())

		var callErr *CallError
		require.ErrorAs(t, err, &callErr)
		assert.Equal(t, KindDecode, callErr.Kind)
		assert.ErrorIs(t, err, ErrUnexpectedReply)
	})

	t.Run("should reject a negative output index", func(t *testing.T) {
		svc, conn := newService(t)
		conn.EXPECT().Call(mock.Anything, MethodListUnspent, "addr").Return(reply(`[{"tx_hash":"` + hashA + `","tx_pos":-1,"value":1000,"height":100}]`)).Once()

		_, err := svc.GetUnspentOutputs(t.Context(), "bitcoin", "addr").Await(t.Context())

		var callErr *CallError
		require.ErrorAs(t, err, &callErr)
		assert.Equal(t, KindDecode, callErr.Kind)
	})

	t.Run("should accept negative amounts and short hashes", func(t *testing.T) {
		svc, conn := newService(t)
		conn.EXPECT().Call(mock.Anything, MethodListUnspent, "addr").Return(reply(`[
			{"tx_hash":"abc123","tx_pos":0,"value":-5,"height":0},
			{"tx_hash":"` + hashA + `","tx_pos":4294967295,"value":-5,"height":12}
		]`)).Once()

		outputs, err := svc.GetUnspentOutputs(t.Context(), "bitcoin", "addr").Await(t.Context())

		require.NoError(t, err)
		assert.Equal(t, []UnspentOutput{
			{TxHash: "abc123", TxPos: 0, Value: -5, Height: 0},
			{TxHash: hashA, TxPos: 4294967295, Value: -5, Height: 12},
		}, outputs)
	})

	t.Run("should reject an output index past 32 bits", func(t *testing.T) {
		svc, conn := newService(t)
		conn.EXPECT().Call(mock.Anything, MethodListUnspent, "addr").Return(reply(`[{"tx_hash":"abc123","tx_pos":4294967296,"value":1,"height":1}]`)).Once()

		_, err := svc.GetUnspentOutputs(t.Context(), "bitcoin", "addr").Await(t.Context())

		var callErr *CallError
		require.ErrorAs(t, err, &callErr)
		assert.Equal(t, KindDecode, callErr.Kind)
	})

	t.Run("should reject a null reply", func(t *testing.T) {
		svc, conn := newService(t)
		conn.EXPECT().Call(mock.Anything, MethodListUnspent, "addr").Return(reply(`null`)).Once()

		_, err := svc.GetUnspentOutputs(t.Context(), "bitcoin", "addr").Await(t.Context())

		var callErr *CallError
		require.ErrorAs(t, err, &callErr)
		assert.Equal(t, KindDecode, callErr.Kind)
	})

	t.Run("should report a remote error", func(t *testing.T) {
		svc, conn := newService(t)
		remote := &connregistry.RemoteError{Code: 1, Message: "invalid address"}
		conn.EXPECT().Call(mock.Anything, MethodListUnspent, "not-an-address").Return(future.Failed[json.RawMessage](remote)).Once()

		_, err := svc.GetUnspentOutputs(t.Context(), "bitcoin", "not-an-address").Await(t.Context())

		var callErr *CallError
		require.ErrorAs(t, err, &callErr)
		assert.Equal(t, KindRemote, callErr.Kind)

		var remoteErr *connregistry.RemoteError
		require.ErrorAs(t, err, &remoteErr)
		assert.Equal(t, "invalid address", remoteErr.Message)
	})

	t.Run("should report a transport error", func(t *testing.T) {
		svc, conn := newService(t)
		conn.EXPECT().Call(mock.Anything, MethodListUnspent, "addr").Return(future.Failed[json.RawMessage](connregistry.ErrNotConnected)).Once()

		_, err := svc.GetUnspentOutputs(t.Context(), "bitcoin", "addr").Await(t.Context())

		var callErr *CallError
		require.ErrorAs(t, err, &callErr)
		assert.Equal(t, KindTransport, callErr.Kind)
		assert.ErrorIs(t, err, connregistry.ErrNotConnected)
	})

	t.Run("should deliver an unknown currency through the future", func(t *testing.T) {
		svc, _ := newService(t)

		f := svc.GetUnspentOutputs(t.Context(), "dogecoin", "addr")
		require.NotNil(t, f)

		_, err, settled := f.Peek()
		require.True(t, settled)

		var callErr *CallError
		require.ErrorAs(t, err, &callErr)
		assert.Equal(t, KindLookup, callErr.Kind)
		assert.ErrorIs(t, err, connregistry.ErrUnknownCurrency)
	})

	t.Run("should settle when the connection replies later", func(t *testing.T) {
		svc, conn := newService(t)
		pending := future.New[json.RawMessage]()
		conn.EXPECT().Call(mock.Anything, MethodListUnspent, "addr").Return(pending).Once()

		f := svc.GetUnspentOutputs(t.Context(), "bitcoin", "addr")

		_, _, settled := f.Peek()
		assert.False(t, settled)

		pending.Resolve(json.RawMessage(`[{"tx_hash":"` + hashA + `","tx_pos":2,"value":5,"height":1}]`))

		outputs, err, settled := f.Peek()
		require.True(t, settled)
		require.NoError(t, err)
		assert.Len(t, outputs, 1)

		assert.False(t, pending.Reject(errors.New("late")))
	})
}

func TestService_GetBalance(t *testing.T) {
	t.Run("should decode confirmed and unconfirmed amounts", func(t *testing.T) {
		svc, conn := newService(t)
		conn.EXPECT().Call(mock.Anything, MethodGetBalance, "addr").Return(reply(`{"confirmed":150000,"unconfirmed":-2000}`)).Once()

		balance, err := svc.GetBalance(t.Context(), "bitcoin", "addr").Await(t.Context())

		require.NoError(t, err)
		assert.Equal(t, Balance{Confirmed: 150000, Unconfirmed: -2000}, balance)
	})

	t.Run("should fail when a field is missing", func(t *testing.T) {
		svc, conn := newService(t)
		conn.EXPECT().Call(mock.Anything, MethodGetBalance, "addr").Return(reply(`{"confirmed":150000}`)).Once()

		_, err := svc.GetBalance(t.Context(), "bitcoin", "addr").Await(t.Context())

		var callErr *CallError
		require.ErrorAs(t, err, &callErr)
		assert.Equal(t, KindDecode, callErr.Kind)
	})
}

func TestService_GetHistory(t *testing.T) {
	t.Run("should decode confirmed and mempool entries", func(t *testing.T) {
		svc, conn := newService(t)
		conn.EXPECT().Call(mock.Anything, MethodGetHistory, "addr").Return(reply(`[{"tx_hash":"` + hashA + `","height":200},{"tx_hash":"` + hashB + `","height":-1,"fee":250}]`)).Once()

		history, err := svc.GetHistory(t.Context(), "bitcoin", "addr").Await(t.Context())

		require.NoError(t, err)
		assert.Equal(t, []HistoryEntry{{TxHash: hashA, Height: 200}, {TxHash: hashB, Height: -1}}, history)
	})

	t.Run("should keep hashes as the server sent them", func(t *testing.T) {
		svc, conn := newService(t)
		conn.EXPECT().Call(mock.Anything, MethodGetHistory, "addr").Return(reply(`[{"tx_hash":"zz","height":200}]`)).Once()

		history, err := svc.GetHistory(t.Context(), "bitcoin", "addr").Await(t.Context())

		require.NoError(t, err)
		assert.Equal(t, []HistoryEntry{{TxHash: "zz", Height: 200}}, history)
	})

	t.Run("should fail when a hash is missing", func(t *testing.T) {
		svc, conn := newService(t)
		conn.EXPECT().Call(mock.Anything, MethodGetHistory, "addr").Return(reply(`[{"height":200}]`)).Once()

		_, err := svc.GetHistory(t.Context(), "bitcoin", "addr").Await(t.Context())

		assert.ErrorIs(t, err, ErrCall)
		assert.ErrorIs(t, err, validator.ErrValidationFailed)
	})
}

func TestInvoke(t *testing.T) {
	t.Run("should turn a decoder panic into a decode error", func(t *testing.T) {
		svc, conn := newService(t)
		conn.EXPECT().Call(mock.Anything, "server.version").Return(reply(`["ElectrumX 1.16.0","1.2"]`)).Once()

		f := Invoke(t.Context(), svc.resolver, "bitcoin", "server.version", func(json.RawMessage) (string, error) {
			panic("boom")
		})

		_, err, settled := f.Peek()
		require.True(t, settled)

		var callErr *CallError
		require.ErrorAs(t, err, &callErr)
		assert.Equal(t, KindDecode, callErr.Kind)
		assert.ErrorIs(t, err, future.ErrPanicked)
	})

	t.Run("should pass raw replies through Call", func(t *testing.T) {
		svc, conn := newService(t)
		conn.EXPECT().Call(mock.Anything, "server.version", "coinconn", "1.2").Return(reply(`["ElectrumX 1.16.0","1.2"]`)).Once()

		raw, err := svc.Call(t.Context(), "bitcoin", "server.version", "coinconn", "1.2").Await(t.Context())

		require.NoError(t, err)
		assert.JSONEq(t, `["ElectrumX 1.16.0","1.2"]`, string(raw))
	})
}

func TestCallError(t *testing.T) {
	err := &CallError{Currency: "bitcoin", Method: MethodGetBalance, Kind: KindRemote, Err: errors.New("daemon error")}

	assert.Equal(t, "remote call to blockchain.address.get_balance on bitcoin failed: daemon error", err.Error())
	assert.ErrorIs(t, err, ErrCall)
	assert.Equal(t, "kind(9)", Kind(9).String())
}
