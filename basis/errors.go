package basis

import "fmt"

// AuthError means no bearer token could be obtained for a call. It is fatal
// to the triggering operation and surfaced up unchanged.
type AuthError struct {
	Err error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("auth token acquisition failed: %v", e.Err)
}

func (e *AuthError) Unwrap() error {
	return e.Err
}

// TransportError covers network and HTTP level failures, including non-2xx
// responses. Retry is the caller's concern, not the client's.
type TransportError struct {
	Op         string
	StatusCode int
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: unexpected http status %d", e.Op, e.StatusCode)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// ApiError means the response arrived but was unusable: GraphQL errors were
// returned, or the payload misses a field required to identify an entity.
// Missing optional fields never produce an ApiError, they default instead.
type ApiError struct {
	Op      string
	Message string
}

func (e *ApiError) Error() string {
	return fmt.Sprintf("%s: %s", e.Op, e.Message)
}
