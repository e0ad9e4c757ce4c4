package transfer

import "errors"

var (
	// ErrNoConnections is returned when the pool has no healthy connection left
	ErrNoConnections = errors.New("no healthy connections")

	// ErrNoClient is returned when a pool endpoint has no client configured
	ErrNoClient = errors.New("no client for endpoint")

	// ErrTransactionFailed is returned when a mined receipt reports failure
	ErrTransactionFailed = errors.New("transaction failed")

	// ErrInvalidArgument is returned for malformed addresses, hashes or payloads
	ErrInvalidArgument = errors.New("invalid argument")
)
