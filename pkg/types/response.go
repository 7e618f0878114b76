package types

type SuccessEnvelope struct {
	Data any `json:"data"`
}

type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

type ErrorEnvelope struct {
	Error APIError `json:"error"`
}

// EventEnvelope frames one server-sent event pushed to cart session subscribers.
type EventEnvelope struct {
	Type    string `json:"type"`
	Version uint64 `json:"version"`
	Data    any    `json:"data"`
}
