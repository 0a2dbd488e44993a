package rpccall

import (
	"errors"
	"fmt"

	"github.com/gabapcia/coinconn/internal/connregistry"
)

// ErrCall matches every *CallError through errors.Is.
var ErrCall = errors.New("call failed")

// Kind classifies why a call failed.
type Kind int

const (
	KindLookup    Kind = iota // no connection registered for the currency
	KindTransport             // the connection could not deliver the request or lost it
	KindRemote                // the server answered with a protocol error
	KindDecode                // the reply did not have the expected shape
)

func (k Kind) String() string {
	switch k {
	case KindLookup:
		return "lookup"
	case KindTransport:
		return "transport"
	case KindRemote:
		return "remote"
	case KindDecode:
		return "decode"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// CallError is the failure of one remote call.
type CallError struct {
	Currency connregistry.CurrencyID
	Method   string
	Kind     Kind
	Err      error
}

func (e *CallError) Error() string {
	return fmt.Sprintf("%s call to %s on %s failed: %v", e.Kind, e.Method, e.Currency, e.Err)
}

func (e *CallError) Unwrap() error {
	return e.Err
}

func (e *CallError) Is(target error) bool {
	return target == ErrCall
}

// classify turns a connection-level error into a CallError.
func classify(currency connregistry.CurrencyID, method string, err error) error {
	var callErr *CallError
	if errors.As(err, &callErr) {
		return err
	}

	kind := KindTransport
	var remoteErr *connregistry.RemoteError
	if errors.As(err, &remoteErr) {
		kind = KindRemote
	}

	return &CallError{Currency: currency, Method: method, Kind: kind, Err: err}
}
