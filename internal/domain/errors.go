package domain

import "errors"

var (
	ErrAccountNotFound = errors.New("account not found")
	ErrBatchNotFound   = errors.New("batch not found")
	ErrSecretNotFound  = errors.New("secret not found")

	// Session acquisition.
	ErrResourceExhausted  = errors.New("no free local port")
	ErrProfileUnavailable = errors.New("no browser executable for account profile")
	ErrLaunchTimeout      = errors.New("debug endpoint not ready before deadline")
	ErrNoTarget           = errors.New("no navigable page target appeared")

	// Protocol client.
	ErrConnect         = errors.New("debugger connection failed")
	ErrProtocolTimeout = errors.New("timed out waiting for protocol message")

	// Loopback authorization.
	ErrAuthorization        = errors.New("authorization rejected")
	ErrAuthorizationDenied  = errors.New("authorization denied by user")
	ErrAuthorizationTimeout = errors.New("timed out waiting for authorization callback")

	ErrCredentialUnavailable = errors.New("no usable credential for account")
)
