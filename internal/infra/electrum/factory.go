package electrum

import (
	"fmt"
	"net/url"

	"github.com/gabapcia/coinconn/internal/connregistry"
)

type transport int

const (
	transportSocket transport = iota
	transportHTTP
)

// NewFactory returns a connregistry.Factory building Electrum connections.
// The transport is chosen from the endpoint schemes, which must all belong to
// the same family.
func NewFactory(opts ...Option) connregistry.Factory {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	return func(currency connregistry.CurrencyID, endpoints []string) (connregistry.Connection, error) {
		urls, kind, err := parseEndpoints(endpoints)
		if err != nil {
			return nil, err
		}

		if kind == transportHTTP {
			return newHTTPConn(currency, endpoints, cfg), nil
		}
		return newSocketConn(currency, urls, cfg), nil
	}
}

func parseEndpoints(endpoints []string) ([]*url.URL, transport, error) {
	if len(endpoints) == 0 {
		return nil, 0, fmt.Errorf("%w: no endpoints", connregistry.ErrConfiguration)
	}

	urls := make([]*url.URL, 0, len(endpoints))
	var kind transport
	for i, raw := range endpoints {
		u, err := url.Parse(raw)
		if err != nil {
			return nil, 0, err
		}

		var k transport
		switch u.Scheme {
		case "tcp", "tls":
			if u.Port() == "" {
				return nil, 0, fmt.Errorf("%w: %s: missing port", connregistry.ErrConfiguration, raw)
			}
			k = transportSocket
		case "http", "https":
			k = transportHTTP
		default:
			return nil, 0, fmt.Errorf("%w: %q", ErrUnsupportedScheme, u.Scheme)
		}

		if i > 0 && k != kind {
			return nil, 0, ErrMixedTransports
		}
		kind = k
		urls = append(urls, u)
	}

	return urls, kind, nil
}
