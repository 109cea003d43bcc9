package core

import "errors"

// Error taxonomy for the request pipeline. Validation and auth failures are
// rejected before any provider call; the credential check runs before any
// paid call; provider and store failures abort the whole request.
var (
	ErrValidation    = errors.New("invalid input")
	ErrNotFound      = errors.New("not found")
	ErrMissingAPIKey = errors.New("openai api key not configured")
	ErrProvider      = errors.New("provider failure")
	ErrStore         = errors.New("store failure")
)
