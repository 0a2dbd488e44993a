// Package mocks provides a testify mock of the CLI client.
package mocks

import (
	"context"
	"time"

	"github.com/gabapcia/coinconn/internal/connregistry"
	"github.com/gabapcia/coinconn/internal/pkg/x/future"
	"github.com/gabapcia/coinconn/internal/rpccall"

	"github.com/stretchr/testify/mock"
)

type Client struct {
	mock.Mock
}

// NewClient creates a Client whose expectations are asserted when the test ends.
func NewClient(t interface {
	mock.TestingT
	Cleanup(func())
}) *Client {
	m := &Client{}
	m.Test(t)

	t.Cleanup(func() { m.AssertExpectations(t) })

	return m
}

func (m *Client) StartAll(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *Client) StopAll(timeout time.Duration) error {
	return m.Called(timeout).Error(0)
}

func (m *Client) Healthy() <-chan struct{} {
	return m.Called().Get(0).(chan struct{})
}

func (m *Client) AwaitRunning(ctx context.Context, currency connregistry.CurrencyID) error {
	ret := m.Called(ctx, currency)
	if fn, ok := ret.Get(0).(func(context.Context, connregistry.CurrencyID) error); ok {
		return fn(ctx, currency)
	}
	return ret.Error(0)
}

func (m *Client) GetUnspentOutputs(ctx context.Context, currency connregistry.CurrencyID, address string) *future.Future[[]rpccall.UnspentOutput] {
	return m.Called(ctx, currency, address).Get(0).(*future.Future[[]rpccall.UnspentOutput])
}

func (m *Client) GetBalance(ctx context.Context, currency connregistry.CurrencyID, address string) *future.Future[rpccall.Balance] {
	return m.Called(ctx, currency, address).Get(0).(*future.Future[rpccall.Balance])
}

func (m *Client) GetHistory(ctx context.Context, currency connregistry.CurrencyID, address string) *future.Future[[]rpccall.HistoryEntry] {
	return m.Called(ctx, currency, address).Get(0).(*future.Future[[]rpccall.HistoryEntry])
}
