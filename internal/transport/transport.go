// Package transport builds the HTTP RoundTripper stack used to reach the
// commerce backend: an optional Chrome TLS fingerprint at the bottom and
// client identification plus bearer auth headers on top.
package transport

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"time"

	utls "github.com/refraction-networking/utls"
	"golang.org/x/net/http2"
)

// Options configures New.
type Options struct {
	Timeout time.Duration // Dial timeout

	// ChromeTLS presents Chrome's TLS fingerprint instead of Go's.
	// Some storefront CDNs rate limit Go's default fingerprint.
	ChromeTLS bool

	// ClientHeader is sent as Storefront-Client on every request when set.
	ClientHeader string

	// Token returns the current bearer token, or "" for cookie-only sessions.
	Token func() string
}

// New returns the RoundTripper stack described by opts.
func New(opts Options) http.RoundTripper {
	var base http.RoundTripper
	if opts.ChromeTLS {
		base = NewChromeTransport(opts.Timeout)
	} else {
		t := http.DefaultTransport.(*http.Transport).Clone()
		t.DialContext = (&net.Dialer{Timeout: opts.Timeout}).DialContext
		base = t
	}

	return &headerTransport{
		base:         base,
		clientHeader: opts.ClientHeader,
		token:        opts.Token,
	}
}

// headerTransport adds identification and auth headers.
// The request is cloned; RoundTrippers must not modify the caller's request.
type headerTransport struct {
	base         http.RoundTripper
	clientHeader string
	token        func() string
}

func (t *headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())

	if req.Header.Get("Accept") == "" {
		req.Header.Set("Accept", "application/json")
	}
	if t.clientHeader != "" {
		req.Header.Set("Storefront-Client", t.clientHeader)
	}
	if t.token != nil {
		if tok := t.token(); tok != "" && req.Header.Get("Authorization") == "" {
			req.Header.Set("Authorization", "Bearer "+tok)
		}
	}

	return t.base.RoundTrip(req)
}

// NewChromeTransport creates an http.RoundTripper that presents Chrome's TLS
// fingerprint. HTTPS requests try HTTP/2 first and fall back to HTTP/1.1
// based on ALPN; plain HTTP goes straight to HTTP/1.1.
func NewChromeTransport(timeout time.Duration) http.RoundTripper {
	dialer := &net.Dialer{Timeout: timeout}

	h2Transport := &http2.Transport{
		DialTLSContext: func(ctx context.Context, network, addr string, _ *tls.Config) (net.Conn, error) {
			return dialChromeTLS(ctx, dialer, network, addr)
		},
	}

	h1Transport := &http.Transport{
		DialContext: dialer.DialContext,
		DialTLSContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			return dialChromeTLS(ctx, dialer, network, addr)
		},
		ForceAttemptHTTP2: false,
	}

	return &chromeTransport{
		h2: h2Transport,
		h1: h1Transport,
	}
}

// chromeTransport wraps HTTP/2 and HTTP/1.1 transports with Chrome TLS fingerprint.
type chromeTransport struct {
	h2 *http2.Transport
	h1 *http.Transport
}

func (t *chromeTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.URL.Scheme != "https" {
		return t.h1.RoundTrip(req)
	}

	resp, err := t.h2.RoundTrip(req)
	if err == nil {
		return resp, nil
	}

	// Server doesn't speak h2
	return t.h1.RoundTrip(req)
}

// dialChromeTLS establishes a TLS connection with Chrome's fingerprint.
func dialChromeTLS(ctx context.Context, dialer *net.Dialer, network, addr string) (net.Conn, error) {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		host = addr
	}

	conn, err := dialer.DialContext(ctx, network, addr)
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}

	tlsConn := utls.UClient(conn, &utls.Config{ServerName: host}, utls.HelloChrome_Auto)
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("tls handshake: %w", err)
	}

	return tlsConn, nil
}
