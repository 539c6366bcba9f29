package openai

import "fmt"

// APIError is a non-2xx response from an OpenAI-compatible endpoint. It keeps
// the HTTP status and the provider error code so callers can decide whether
// the failure is worth retrying.
type APIError struct {
	Status  int
	Code    string
	Type    string
	Message string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("openai http %d (%s): %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("openai http %d: %s", e.Status, e.Message)
}

func (e *APIError) HTTPStatus() int { return e.Status }

func (e *APIError) APICode() string { return e.Code }
