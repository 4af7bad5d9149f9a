package readmill

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrMalformed marks responses that reached us with an accepted status but
// did not decode into the expected shape. Check with errors.Is.
var ErrMalformed = errors.New("malformed response from service")

// StatusError is returned when the service answers with a status code outside
// the accepted set for an operation. The engine branches on Code to decide
// between skip, reconnect, convert-to-delete, and abort.
type StatusError struct {
	// Code is the HTTP status code of the rejected response.
	Code int
	// Op names the operation that failed, e.g. "create ping".
	Op string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: service returned %d %s", e.Op, e.Code, http.StatusText(e.Code))
}

// StatusCode extracts the status code from err, or 0 when err carries none.
func StatusCode(err error) int {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code
	}
	return 0
}
