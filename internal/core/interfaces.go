// Package core defines the core interfaces for the curve_core service
package core

import (
	"context"
)

// IQuoteRouter resolves swap routes and their expected output
type IQuoteRouter interface {
	Route(ctx context.Context, req QuoteRequest) (Quote, error)
}

// ILoanSource loads the raw on-chain state of a user's loan
type ILoanSource interface {
	UserLoan(ctx context.Context, chain, controller, user string) (LoanSnapshot, error)
}

// ILogger defines the interface for logging
type ILogger interface {
	Debug(msg string, fields ...interface{})
	Info(msg string, fields ...interface{})
	Warn(msg string, fields ...interface{})
	Error(msg string, fields ...interface{})
	Fatal(msg string, fields ...interface{})
	WithField(key string, value interface{}) ILogger
	WithFields(fields map[string]interface{}) ILogger
}
