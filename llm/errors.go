package llm

import "errors"

var (
	// ErrModelNotFound is returned when a named model doesn't exist in the registry.
	ErrModelNotFound = errors.New("model not found")

	// ErrMissingAPIKey is returned when a provider is configured without an API key.
	ErrMissingAPIKey = errors.New("provider missing API key")

	// ErrMissingMessages is returned when a chat request carries no messages.
	ErrMissingMessages = errors.New("messages are required")

	// ErrMissingInput is returned when an embedding request carries no input.
	ErrMissingInput = errors.New("input is required")

	// ErrNoChoices is returned when the upstream responds without any completion.
	ErrNoChoices = errors.New("no completion choices in response")
)
