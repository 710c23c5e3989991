package resilience

import (
	"errors"
	"fmt"
	"net"
	"syscall"
	"testing"
)

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"explicit", NewTransientError(errors.New("overloaded"), 503), true},
		{"wrapped explicit", fmt.Errorf("fetch: %w", NewTransientError(errors.New("slow down"), 429)), true},
		{"plain", errors.New("invalid input: missing field"), false},
		{"conn reset", fmt.Errorf("read tcp: %w", syscall.ECONNRESET), true},
		{"conn refused", fmt.Errorf("dial tcp: %w", syscall.ECONNREFUSED), true},
		{"dns timeout", &net.DNSError{IsTimeout: true, Err: "timeout"}, true},
		{"io timeout text", errors.New("read: i/o timeout"), true},
		{"ftp busy", errors.New("421 Service not available, closing control connection"), true},
		{"ftp missing file", errors.New("550 No such file or directory"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsTransient(tt.err); got != tt.want {
				t.Errorf("IsTransient(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestStatusError(t *testing.T) {
	err := StatusError(503, "https://feeds.example.com/bbg.csv")
	if !IsTransient(err) {
		t.Error("503 should be transient")
	}
	var te *TransientError
	if !errors.As(err, &te) || te.StatusCode != 503 {
		t.Errorf("expected TransientError with status 503, got %v", err)
	}

	err = StatusError(404, "https://feeds.example.com/missing.csv")
	if IsTransient(err) {
		t.Error("404 should not be transient")
	}
	if err.Error() != "http 404 from https://feeds.example.com/missing.csv" {
		t.Errorf("unexpected message %q", err.Error())
	}
}

func TestIsTransientHTTPStatus(t *testing.T) {
	for _, code := range []int{408, 429, 500, 502, 503, 504} {
		if !IsTransientHTTPStatus(code) {
			t.Errorf("%d should be transient", code)
		}
	}
	for _, code := range []int{200, 301, 400, 401, 403, 404, 501} {
		if IsTransientHTTPStatus(code) {
			t.Errorf("%d should not be transient", code)
		}
	}
}
