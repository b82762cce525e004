package stream

import (
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"
	"testing/iotest"
)

// trackingBody records whether it was read to the end.
type trackingBody struct {
	r       io.Reader
	drained bool
}

func (b *trackingBody) Read(p []byte) (int, error) {
	n, err := b.r.Read(p)
	if err == io.EOF {
		b.drained = true
	}
	return n, err
}

func (b *trackingBody) Close() error { return nil }

func TestCheckResponse(t *testing.T) {
	tests := []struct {
		name        string
		status      int
		statusText  string
		body        string
		wantErr     bool
		wantPayload string
		wantMessage string
	}{
		{
			name:   "success passes through",
			status: http.StatusOK,
			body:   `{"stdout":"hi"}` + "\n",
		},
		{
			name:        "structured error payload",
			status:      http.StatusBadRequest,
			statusText:  "400 Bad Request",
			body:        `{"error":"invalid language"}`,
			wantErr:     true,
			wantPayload: "invalid language",
			wantMessage: "server returned 400 Bad Request: invalid language",
		},
		{
			name:        "payload with message",
			status:      http.StatusConflict,
			statusText:  "409 Conflict",
			body:        `{"error":"conflict","message":"sandbox busy"}`,
			wantErr:     true,
			wantPayload: "conflict",
			wantMessage: "server returned 409 Conflict: conflict: sandbox busy",
		},
		{
			name:        "non json body falls back to status line",
			status:      http.StatusBadGateway,
			statusText:  "502 Bad Gateway",
			body:        "<html>upstream down</html>",
			wantErr:     true,
			wantMessage: "server returned 502 Bad Gateway",
		},
		{
			name:        "missing status text",
			status:      http.StatusServiceUnavailable,
			body:        "",
			wantErr:     true,
			wantMessage: "server returned 503 Service Unavailable",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body := &trackingBody{r: strings.NewReader(tt.body)}
			resp := &http.Response{
				StatusCode: tt.status,
				Status:     tt.statusText,
				Body:       body,
			}

			err := CheckResponse(resp)
			if !tt.wantErr {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				if body.drained {
					t.Error("success body must be left for streaming")
				}
				return
			}

			var statusErr *StatusError
			if !errors.As(err, &statusErr) {
				t.Fatalf("error = %T %v, want *StatusError", err, err)
			}
			if statusErr.StatusCode != tt.status {
				t.Errorf("StatusCode = %d, want %d", statusErr.StatusCode, tt.status)
			}
			if tt.wantPayload == "" && statusErr.Payload != nil {
				t.Errorf("Payload = %+v, want nil", statusErr.Payload)
			}
			if tt.wantPayload != "" && (statusErr.Payload == nil || statusErr.Payload.Error != tt.wantPayload) {
				t.Errorf("Payload = %+v, want error %q", statusErr.Payload, tt.wantPayload)
			}
			if err.Error() != tt.wantMessage {
				t.Errorf("Error() = %q, want %q", err.Error(), tt.wantMessage)
			}
			if !body.drained {
				t.Error("error body was not drained")
			}
		})
	}
}

func TestCheckResponse_LargeBodyDrained(t *testing.T) {
	large := strings.Repeat("x", maxErrorBody*3)
	body := &trackingBody{r: strings.NewReader(large)}
	resp := &http.Response{StatusCode: http.StatusInternalServerError, Status: "500 Internal Server Error", Body: body}

	err := CheckResponse(resp)
	var statusErr *StatusError
	if !errors.As(err, &statusErr) {
		t.Fatalf("error = %v, want *StatusError", err)
	}
	if len(statusErr.Body) != maxErrorBody {
		t.Errorf("kept %d bytes, want %d", len(statusErr.Body), maxErrorBody)
	}
	if !body.drained {
		t.Error("remaining body was not drained")
	}
}

func TestCheckResponse_ReadError(t *testing.T) {
	boom := errors.New("connection reset")
	tests := []struct {
		name string
		body io.Reader
	}{
		{name: "fails mid payload", body: io.MultiReader(strings.NewReader(`{"error":"par`), iotest.ErrReader(boom))},
		{name: "fails before any byte", body: iotest.ErrReader(boom)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := &http.Response{
				StatusCode: http.StatusInternalServerError,
				Status:     "500 Internal Server Error",
				Body:       io.NopCloser(tt.body),
			}

			err := CheckResponse(resp)
			var statusErr *StatusError
			if !errors.As(err, &statusErr) {
				t.Fatalf("error = %T %v, want *StatusError", err, err)
			}
			if !errors.Is(err, boom) {
				t.Errorf("ReadErr = %v, want %v", statusErr.ReadErr, boom)
			}
			if statusErr.Payload != nil {
				t.Errorf("Payload = %+v, want nil for a cut off body", statusErr.Payload)
			}
		})
	}
}

func TestRequireBody(t *testing.T) {
	if err := RequireBody(&http.Response{Body: http.NoBody}); !errors.Is(err, ErrNoBody) {
		t.Errorf("NoBody: error = %v, want ErrNoBody", err)
	}
	if err := RequireBody(&http.Response{Body: io.NopCloser(strings.NewReader("x"))}); err != nil {
		t.Errorf("body present: unexpected error %v", err)
	}
}
