// Package surface defines the contract the trading core holds against the
// host trading page, and a websocket bridge implementation of it.
//
// Every read may legitimately fail with ErrNotFound and every write is
// expected to be verified by a follow-up read: the host page is asynchronous
// and eventually consistent, and the retry budget lives in the callers.
package surface

import (
	"context"
	"errors"

	"github.com/wherexml/alpha-trade/internal/signal"
)

// ErrNotFound reports that the element or row the operation targets is not
// (yet) present on the page. Callers treat it as transient.
var ErrNotFound = errors.New("surface: element not found")

// SubmitState describes the buy submit control.
type SubmitState struct {
	Found    bool
	Disabled bool
	Label    string
}

// Dialog describes a (possibly absent) confirmation dialog.
type Dialog struct {
	Present bool
	Text    string
}

// PendingOrder is one row of the pending-orders table.
type PendingOrder struct {
	Side   string
	Status string
}

// PageState reports the coarse health checks the loop runs between rounds.
type PageState struct {
	OnTradingPage bool
	LoggedIn      bool
	Online        bool
}

// Surface is the full adapter contract. All methods are fallible and
// ctx-aware; none of them block beyond the adapter's own call timeout.
type Surface interface {
	// TapeRows enumerates the visible trade-tape rows, oldest first.
	TapeRows(ctx context.Context) ([]signal.TapeRow, error)

	SelectBuyTab(ctx context.Context) error
	BuyTabActive(ctx context.Context) (bool, error)

	ReverseOrderChecked(ctx context.Context) (bool, error)
	ToggleReverseOrder(ctx context.Context) error

	// ReferencePrice returns the suggested price text shown by the page.
	ReferencePrice(ctx context.Context) (string, error)
	SetBuyPrice(ctx context.Context, value string) error
	SetSellPrice(ctx context.Context, value string) error
	SetAmount(ctx context.Context, value string) error

	SubmitState(ctx context.Context) (SubmitState, error)
	Submit(ctx context.Context) error

	ConfirmationDialog(ctx context.Context) (Dialog, error)
	AcceptConfirmation(ctx context.Context) error

	PendingOrders(ctx context.Context) ([]PendingOrder, error)

	PageState(ctx context.Context) (PageState, error)
}
