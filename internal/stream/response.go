package stream

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
)

// maxErrorBody caps how much of an error body is kept. Anything beyond it
// is still read and discarded so the connection can be reused.
const maxErrorBody = 64 * 1024

// CheckResponse decides from the status code alone whether a response may
// be streamed. On a 2xx status it returns nil and leaves the body untouched.
// Otherwise it reads the entire body, tries to parse it as an ErrorPayload,
// and returns a *StatusError. The body is fully drained in that case; the
// caller still owns Close. A failed body read is kept in ReadErr.
func CheckResponse(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	statusErr := &StatusError{
		StatusCode: resp.StatusCode,
		Status:     statusText(resp),
	}
	if resp.Body == nil {
		return statusErr
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if err == nil {
		// Drain the rest to allow connection reuse
		_, err = io.Copy(io.Discard, resp.Body)
	}
	statusErr.ReadErr = err

	statusErr.Body = strings.TrimSpace(string(data))

	var payload ErrorPayload
	if err := json.Unmarshal(data, &payload); err == nil && (payload.Error != "" || payload.Message != "") {
		statusErr.Payload = &payload
	}

	return statusErr
}

// RequireBody returns ErrNoBody when a response has nothing to stream.
func RequireBody(resp *http.Response) error {
	if resp.Body == nil || resp.Body == http.NoBody {
		return ErrNoBody
	}
	return nil
}

// statusText returns "404 Not Found" style text, falling back to the code
// when the transport left Status empty.
func statusText(resp *http.Response) string {
	if resp.Status != "" {
		return resp.Status
	}
	if text := http.StatusText(resp.StatusCode); text != "" {
		return strconv.Itoa(resp.StatusCode) + " " + text
	}
	return strconv.Itoa(resp.StatusCode)
}
