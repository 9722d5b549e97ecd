package domain

import "fmt"

// FetchError is the transport-failure kind of the error taxonomy: the
// provider could not be reached or answered non-2xx. It carries whatever the
// transport produced so the failure can still be archived with a meaningful
// hash. StatusCode is zero when no response arrived.
type FetchError struct {
	URL        string
	StatusCode int
	Body       []byte
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("HTTP %d: %v", e.StatusCode, e.Err)
	}
	return e.Err.Error()
}

func (e *FetchError) Unwrap() error {
	return e.Err
}
