// Package rpccall turns raw remote calls on a currency's connection into
// typed asynchronous results.
//
// Every call returns a future immediately. Lookup failures, transport
// failures, server errors and malformed replies all arrive through that
// future as a *CallError; nothing is raised synchronously.
package rpccall

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/gabapcia/coinconn/internal/connregistry"
	"github.com/gabapcia/coinconn/internal/pkg/x/future"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/gabapcia/coinconn/internal/rpccall"

var (
	tracer = otel.Tracer(instrumentationName)

	callCounter, _ = otel.Meter(instrumentationName).Int64Counter(
		"coinconn.rpc.calls",
		metric.WithDescription("Remote calls issued, by currency, method and outcome"),
	)
)

// Resolver returns the connection serving a currency.
type Resolver interface {
	Get(currency connregistry.CurrencyID) (connregistry.Connection, error)
}

// Decoder turns a raw reply into a typed result.
type Decoder[T any] func(raw json.RawMessage) (T, error)

// Invoke issues method with params on the connection of currency and decodes
// the reply with decode. The returned future is settled exactly once, inline
// on the goroutine that settles the underlying connection future.
func Invoke[T any](ctx context.Context, resolver Resolver, currency connregistry.CurrencyID, method string, decode Decoder[T], params ...any) *future.Future[T] {
	ctx, span := tracer.Start(ctx, method, trace.WithAttributes(
		attribute.String("rpc.method", method),
		attribute.String("connection.currency", string(currency)),
	))

	conn, err := resolver.Get(currency)
	if err != nil {
		result := future.Failed[T](&CallError{Currency: currency, Method: method, Kind: KindLookup, Err: err})
		observe(ctx, span, currency, method, result)
		return result
	}

	result := future.Then(
		conn.Call(ctx, method, params...),
		func(raw json.RawMessage) (value T, err error) {
			defer func() {
				if r := recover(); r != nil {
					err = &CallError{Currency: currency, Method: method, Kind: KindDecode, Err: fmt.Errorf("%w: %v", future.ErrPanicked, r)}
				}
			}()

			value, err = decode(raw)
			if err != nil {
				return value, &CallError{Currency: currency, Method: method, Kind: KindDecode, Err: err}
			}
			return value, nil
		},
		func(err error) error {
			return classify(currency, method, err)
		},
	)

	observe(ctx, span, currency, method, result)
	return result
}

// observe ends span and counts the call once result settles.
func observe[T any](ctx context.Context, span trace.Span, currency connregistry.CurrencyID, method string, result *future.Future[T]) {
	result.OnComplete(func(_ T, err error) {
		outcome := "ok"
		if err != nil {
			outcome = "error"

			var callErr *CallError
			if errors.As(err, &callErr) {
				outcome = callErr.Kind.String()
			}

			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}

		callCounter.Add(ctx, 1, metric.WithAttributes(
			attribute.String("connection.currency", string(currency)),
			attribute.String("rpc.method", method),
			attribute.String("rpc.outcome", outcome),
		))
		span.End()
	})
}

// Raw is a Decoder returning the reply unchanged.
func Raw(raw json.RawMessage) (json.RawMessage, error) {
	return raw, nil
}
