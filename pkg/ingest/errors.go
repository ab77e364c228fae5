package ingest

import "errors"

// Authentication outcomes. The API layer maps the first three to 401
// and ErrScopeDenied to 403.
var (
	ErrKeyUnknown  = errors.New("api key unknown")
	ErrKeyInactive = errors.New("api key inactive")
	ErrKeyExpired  = errors.New("api key expired")
	ErrScopeDenied = errors.New("api key scopes do not cover domain")
)
