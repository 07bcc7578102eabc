package oidc

import (
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// HTTPClient defines the interface for making HTTP requests.
// This abstraction allows for testing and custom implementations.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// defaultHTTPClient is a production HTTP client with sensible defaults.
type defaultHTTPClient struct {
	client *http.Client
}

// newDefaultHTTPClient creates an HTTP client tuned for calls to
// discovery, JWKS and token endpoints.
func newDefaultHTTPClient(timeout time.Duration, tlsConfig *tls.Config, insecureSkipVerify bool) HTTPClient {
	customTLS := tlsConfig
	if customTLS == nil {
		customTLS = &tls.Config{
			MinVersion: tls.VersionTLS12,
		}
	} else {
		customTLS = tlsConfig.Clone()
	}

	if insecureSkipVerify {
		customTLS.InsecureSkipVerify = true
	}

	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSClientConfig:       customTLS,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		ResponseHeaderTimeout: timeout,
	}

	return &defaultHTTPClient{
		client: &http.Client{
			Timeout:   timeout,
			Transport: &retryTransport{base: transport, retries: 2},
		},
	}
}

// Do executes the HTTP request.
func (c *defaultHTTPClient) Do(req *http.Request) (*http.Response, error) {
	return c.client.Do(req)
}

// retryTransport wraps an http.RoundTripper with retry logic for
// transient failures: transport errors, 429 and 5xx responses.
type retryTransport struct {
	base    http.RoundTripper
	retries uint64
}

// RoundTrip implements http.RoundTripper. Client errors other than 429
// pass through untouched; retryable failures are reattempted on an
// exponential schedule until the retry budget or the request context
// runs out.
func (t *retryTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	var resp *http.Response

	operation := func() error {
		if req.Body != nil && req.GetBody != nil {
			body, err := req.GetBody()
			if err != nil {
				return backoff.Permanent(err)
			}
			req.Body = body
		}

		r, err := t.base.RoundTrip(req)
		if err != nil {
			return err
		}
		if shouldRetry(r) {
			r.Body.Close()
			return fmt.Errorf("oidc: retryable status %s", r.Status)
		}
		resp = r
		return nil
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 100 * time.Millisecond
	policy.MaxInterval = 2 * time.Second

	err := backoff.Retry(operation, backoff.WithContext(backoff.WithMaxRetries(policy, t.retries), req.Context()))
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// shouldRetry determines if an HTTP response indicates a transient
// failure.
func shouldRetry(resp *http.Response) bool {
	if resp == nil {
		return true
	}
	return resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500
}
