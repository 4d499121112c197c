package nosana

import (
	"errors"
	"fmt"
)

// ErrorKind classifies why a single upstream fetch failed.
type ErrorKind int

const (
	// KindUnreachable covers transport errors, timeouts and non-2xx responses.
	KindUnreachable ErrorKind = iota
	// KindInvalidPayload means the body could not be decoded into the expected shape.
	KindInvalidPayload
	// KindRateLimited means upstream (or the local limiter) refused the request.
	KindRateLimited
	// KindUnavailable means the client is disabled and no request was attempted.
	KindUnavailable
)

func (k ErrorKind) String() string {
	switch k {
	case KindUnreachable:
		return "unreachable"
	case KindInvalidPayload:
		return "invalid payload"
	case KindRateLimited:
		return "rate limited"
	case KindUnavailable:
		return "unavailable"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// FetchError is the only error type returned by the endpoint clients.
type FetchError struct {
	Source string // "info", "specs", "markets", "jobs", "queue"
	Kind   ErrorKind
	Err    error
}

func (e *FetchError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Source, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Source, e.Kind, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// KindOf reports the FetchError kind wrapped in err.
func KindOf(err error) (ErrorKind, bool) {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.Kind, true
	}
	return 0, false
}

// IsKind reports whether err is a FetchError of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}

var (
	errEmptyAddress = errors.New("node address is empty")
	errNotObject    = errors.New("payload is not a JSON object")
	errNotList      = errors.New("payload is not a list")
)
