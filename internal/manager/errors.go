package manager

import "errors"

// Sentinel errors the API layer maps to HTTP status codes via errors.Is,
// used to map to HTTP status codes at the API layer.
var (
	ErrProjectExists   = errors.New("project already exists")
	ErrProjectNotFound = errors.New("project not found")
	ErrAgentIDTaken    = errors.New("agent id already taken")
	ErrAgentNotFound   = errors.New("agent not found")
	ErrProviderUnknown = errors.New("provider unknown")
	ErrMuxUnavailable  = errors.New("mux unavailable")
	ErrInvalidName     = errors.New("invalid name")
)
