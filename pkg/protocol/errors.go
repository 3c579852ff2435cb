package protocol

// Error codes returned by the relay HTTP API.
const (
	ErrInvalidRequest     = "INVALID_REQUEST"
	ErrUnavailable        = "UNAVAILABLE"
	ErrUnauthorized       = "UNAUTHORIZED"
	ErrNotFound           = "NOT_FOUND"
	ErrResourceExhausted  = "RESOURCE_EXHAUSTED"
	ErrFailedPrecondition = "FAILED_PRECONDITION"
	ErrInternal           = "INTERNAL"
)

// ErrorShape is the JSON error body of the HTTP API.
type ErrorShape struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
