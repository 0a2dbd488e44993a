// Package jsonrpc provides JSON-RPC 2.0 message types shared by the stream
// and HTTP transports, plus a client that posts single requests over HTTP
// with automatic retries.
package jsonrpc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	transporthttp "github.com/gabapcia/coinconn/internal/pkg/transport/http"

	"github.com/google/uuid"
	"github.com/hashicorp/go-retryablehttp"
)

// ErrProviderReturnedError indicates that the remote JSON-RPC server returned an error response.
var ErrProviderReturnedError = errors.New("provider error")

// Error is a JSON-RPC error object returned by the server.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: [%d] - %s", ErrProviderReturnedError, e.Code, e.Message)
}

func (e *Error) Is(target error) bool {
	return target == ErrProviderReturnedError
}

// Request is a JSON-RPC 2.0 request.
type Request struct {
	JsonRPC string `json:"jsonrpc"`
	ID      string `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

// NewRequest builds a request with a fresh UUID id. Nil params are sent as [].
func NewRequest(method string, params ...any) Request {
	if params == nil {
		params = []any{}
	}

	return Request{
		JsonRPC: "2.0",
		ID:      uuid.NewString(),
		Method:  method,
		Params:  params,
	}
}

// Response is any message sent by the server: a reply carries ID and either
// Result or Error, a notification carries Method and Params and no ID.
type Response struct {
	JsonRPC string            `json:"jsonrpc"`
	ID      *string           `json:"id"`
	Result  json.RawMessage   `json:"result"`
	Error   *Error            `json:"error"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params"`
}

// IsNotification reports whether r is a server push rather than a reply.
func (r Response) IsNotification() bool {
	return r.ID == nil && r.Method != ""
}

// Err returns the server error, if any.
func (r Response) Err() error {
	if r.Error == nil {
		return nil
	}

	return r.Error
}

// Client defines the interface for a generic JSON-RPC client.
// It can be used to abstract the underlying implementation and facilitate mocking or testing.
type Client interface {
	// Fetch sends a JSON-RPC request with the given method name and parameters.
	// It returns the raw JSON result or an error if the request or response fails.
	Fetch(ctx context.Context, method string, params ...any) (json.RawMessage, error)
}

// client posts JSON-RPC requests to one endpoint.
type client struct {
	providerEndpoint string
	httpClient       *retryablehttp.Client
}

// Compile-time assertion that client implements the Client interface.
var _ Client = (*client)(nil)

// Fetch sends a JSON-RPC request to the remote server with the given method and parameters.
// It returns the raw result as a json.RawMessage or an error if the request or server fails.
// A server error is returned as *Error.
func (c *client) Fetch(ctx context.Context, method string, params ...any) (json.RawMessage, error) {
	body, err := json.Marshal(NewRequest(method, params...))
	if err != nil {
		return nil, err
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, c.providerEndpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	req.Header.Set("Content-Type", "application/json")

	res, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	var data Response
	if err := json.NewDecoder(res.Body).Decode(&data); err != nil {
		return nil, err
	}

	if err := data.Err(); err != nil {
		return nil, err
	}

	return data.Result, nil
}

// NewClient creates a JSON-RPC client for providerEndpoint. The HTTP
// options are passed to transport/http.NewClient.
func NewClient(providerEndpoint string, opts ...transporthttp.Option) *client {
	return &client{
		providerEndpoint: providerEndpoint,
		httpClient:       transporthttp.NewClient(opts...),
	}
}
