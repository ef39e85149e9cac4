package fetch

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
)

type fakeTimeout struct{}

func (fakeTimeout) Error() string   { return "i/o timeout" }
func (fakeTimeout) Timeout() bool   { return true }
func (fakeTimeout) Temporary() bool { return true }

func TestClassify(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		input  error
		expect error
	}{
		{"deadline", &url.Error{Op: "Get", URL: "http://x", Err: context.DeadlineExceeded}, ErrTimeout},
		{"net-timeout", &url.Error{Op: "Get", URL: "http://x", Err: fakeTimeout{}}, ErrTimeout},
		{"record-header", &url.Error{Op: "Get", URL: "https://x", Err: tls.RecordHeaderError{Msg: "bad record"}}, ErrTLS},
		{"unknown-authority-bare", x509.UnknownAuthorityError{}, ErrTLS},
		{"unknown-authority-wrapped",
			&url.Error{Op: "Get", URL: "https://x",
				Err: fmt.Errorf("tls: failed to verify certificate: %w", x509.UnknownAuthorityError{})},
			ErrTLS},
		{"hostname-wrapped",
			fmt.Errorf("remote error: %w", x509.HostnameError{Certificate: &x509.Certificate{}, Host: "game.test"}),
			ErrTLS},
		{"refused", &url.Error{Op: "Get", URL: "http://x", Err: fmt.Errorf("connection refused")}, ErrConnect},
		{"plain", fmt.Errorf("boom"), ErrConnect},
	}
	for _, c := range cases {
		c := c
		t.Run(c.name, func(t *testing.T) {
			assert.Equal(t, c.expect, classify(c.input))
		})
	}
}
