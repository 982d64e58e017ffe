package storage

import "errors"

// Sentinel errors returned by storage implementations. API handlers use these
// to select HTTP status codes.
var (
	ErrEventNotFound = errors.New("event not found")
	ErrRuleNotFound  = errors.New("rule not found")
	ErrEmptyBatch    = errors.New("empty event batch")
)
