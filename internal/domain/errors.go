package domain

import "errors"

var (
	ErrCaseNotFound           = errors.New("case not found")
	ErrDisputeNotFound        = errors.New("dispute not found")
	ErrTransactionNotFound    = errors.New("transaction not found")
	ErrInvalidQuery           = errors.New("case lookup requires a dispute id or transaction id")
	ErrDuplicateActiveDispute = errors.New("active dispute already exists for this transaction")
	ErrConcurrentUpdate       = errors.New("conversation was modified concurrently")
)
