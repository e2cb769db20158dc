// Package errs defines the error taxonomy shared across the signal
// pipeline: BadConfig, BadDate, BadNumber, InsufficientData, StoreError,
// and TransportError. Each wraps enough context (component, asset,
// timeframe, date) for operational diagnosis, following the plain
// fmt.Errorf("%w", ...) wrapping style used throughout the pipeline.
package errs

import (
	"errors"
	"fmt"
)

// Sentinel kinds. Use errors.Is against these to classify a wrapped error.
var (
	ErrBadConfig         = errors.New("bad_config")
	ErrBadDate           = errors.New("bad_date")
	ErrBadNumber         = errors.New("bad_number")
	ErrInsufficientData  = errors.New("insufficient_data")
	ErrStore             = errors.New("store_error")
	ErrTransport         = errors.New("transport_error")
)

// Context carries optional diagnostic fields attached to a wrapped error.
type Context struct {
	Component string
	Asset     string
	Timeframe string
	Date      string
}

func (c Context) String() string {
	s := c.Component
	if c.Asset != "" {
		s += " asset=" + c.Asset
	}
	if c.Timeframe != "" {
		s += " timeframe=" + c.Timeframe
	}
	if c.Date != "" {
		s += " date=" + c.Date
	}
	return s
}

// Wrap builds an error of the given sentinel kind carrying ctx and msg.
func Wrap(kind error, ctx Context, msg string) error {
	return fmt.Errorf("%s: %s: %w", ctx.String(), msg, kind)
}

// BadConfig wraps ErrBadConfig with context.
func BadConfig(ctx Context, msg string) error { return Wrap(ErrBadConfig, ctx, msg) }

// BadDate wraps ErrBadDate with context.
func BadDate(ctx Context, msg string) error { return Wrap(ErrBadDate, ctx, msg) }

// BadNumber wraps ErrBadNumber with context.
func BadNumber(ctx Context, msg string) error { return Wrap(ErrBadNumber, ctx, msg) }

// StoreError wraps ErrStore with context.
func StoreError(ctx Context, msg string) error { return Wrap(ErrStore, ctx, msg) }

// TransportError wraps ErrTransport with context.
func TransportError(ctx Context, msg string) error { return Wrap(ErrTransport, ctx, msg) }

// IsInsufficientData reports whether err represents an insufficient-data
// condition. Callers generally should not construct InsufficientData as
// an error at all — it is returned as a value (nil result) per the
// propagation policy — this helper exists for the rare boundary where a
// collaborator's error must be classified.
func IsInsufficientData(err error) bool {
	return errors.Is(err, ErrInsufficientData)
}
