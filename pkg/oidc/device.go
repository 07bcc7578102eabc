package oidc

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// deviceGrantType is the RFC 8628 grant type URN.
const deviceGrantType = "urn:ietf:params:oauth:grant-type:device_code"

// defaultDeviceCodeLifetime bounds polling when the provider omits
// expires_in from the authorization response.
const defaultDeviceCodeLifetime = 15 * time.Minute

// DeviceAuthorization is the device authorization endpoint response:
// the code the device polls with and the code the user types in.
type DeviceAuthorization struct {
	DeviceCode              string `json:"device_code"`
	UserCode                string `json:"user_code"`
	VerificationURI         string `json:"verification_uri"`
	VerificationURIComplete string `json:"verification_uri_complete,omitempty"`
	ExpiresIn               int64  `json:"expires_in"`
	Interval                int64  `json:"interval,omitempty"`

	// VerificationURL catches providers that send verification_url
	// instead of the RFC field. Normalized into VerificationURI.
	VerificationURL string `json:"verification_url,omitempty"`

	// ExpiresAt is the absolute expiry derived from ExpiresIn, or a
	// default lifetime when the provider omits it. Polling stops here.
	ExpiresAt time.Time `json:"-"`
}

// deviceFlow implements the device authorization grant.
type deviceFlow struct {
	config     *Config
	httpClient HTTPClient
	discovery  *discoveryClient
	validator  *idTokenValidator
	logger     *slog.Logger
}

// newDeviceFlow creates a new device flow handler.
func newDeviceFlow(config *Config, httpClient HTTPClient, discovery *discoveryClient, validator *idTokenValidator, logger *slog.Logger) *deviceFlow {
	return &deviceFlow{
		config:     config,
		httpClient: httpClient,
		discovery:  discovery,
		validator:  validator,
		logger:     logger,
	}
}

// start asks the provider for a device code and the user code to
// display.
func (d *deviceFlow) start(ctx context.Context) (*DeviceAuthorization, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	ep, err := d.discovery.Endpoints(ctx)
	if err != nil {
		return nil, err
	}
	if ep.deviceAuth == "" {
		return nil, fmt.Errorf("%w: provider has no device authorization endpoint", ErrInvalidConfiguration)
	}

	data := url.Values{}
	data.Set("client_id", d.config.ClientID)
	if d.config.ClientSecret != "" {
		data.Set("client_secret", d.config.ClientSecret)
	}
	if len(d.config.Scopes) > 0 {
		data.Set("scope", strings.Join(d.config.Scopes, " "))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ep.deviceAuth, strings.NewReader(data.Encode()))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTokenRequestFailed, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTokenRequestFailed, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxTokenResponseSize))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read response: %v", ErrTokenRequestFailed, err)
	}

	if resp.StatusCode != http.StatusOK {
		if oe := parseOAuthError(body); oe != nil {
			return nil, fmt.Errorf("%w: %s: %s", ErrTokenRequestFailed, oe.Code, oe.Description)
		}
		return nil, fmt.Errorf("%w: status %d: %s", ErrTokenRequestFailed, resp.StatusCode, string(body))
	}

	var auth DeviceAuthorization
	if err := json.Unmarshal(body, &auth); err != nil {
		return nil, fmt.Errorf("%w: failed to parse device authorization: %v", ErrTokenRequestFailed, err)
	}
	if auth.VerificationURI == "" {
		auth.VerificationURI = auth.VerificationURL
	}
	if auth.DeviceCode == "" || auth.UserCode == "" || auth.VerificationURI == "" {
		return nil, fmt.Errorf("%w: malformed device authorization response", ErrTokenRequestFailed)
	}
	lifetime := defaultDeviceCodeLifetime
	if auth.ExpiresIn > 0 {
		lifetime = time.Duration(auth.ExpiresIn) * time.Second
	}
	auth.ExpiresAt = time.Now().Add(lifetime)

	d.logger.Debug("device authorization started",
		"user_code", auth.UserCode, "verification_uri", auth.VerificationURI)

	return &auth, nil
}

// poll polls the token endpoint until the user approves, declines, or
// the device code expires. authorization_pending keeps polling at the
// current interval; slow_down adds five seconds to it.
func (d *deviceFlow) poll(ctx context.Context, auth *DeviceAuthorization) (*AuthResult, error) {
	if auth == nil || auth.DeviceCode == "" {
		return nil, fmt.Errorf("%w: device code is required", ErrTokenRequestFailed)
	}
	if ctx == nil {
		ctx = context.Background()
	}

	interval := d.config.DevicePollInterval
	if auth.Interval > 0 {
		interval = time.Duration(auth.Interval) * time.Second
	}

	deadline := auth.ExpiresAt
	if deadline.IsZero() {
		deadline = time.Now().Add(defaultDeviceCodeLifetime)
	}

	timer := time.NewTimer(interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
		}

		if time.Now().After(deadline) {
			return nil, fmt.Errorf("%w: user code expired before approval", ErrDeviceFlowExpired)
		}

		token, oe, err := d.pollOnce(ctx, auth.DeviceCode)
		if err != nil {
			return nil, err
		}
		if oe != nil {
			switch oe.Code {
			case "authorization_pending":
			case "slow_down":
				interval += 5 * time.Second
				d.logger.Debug("provider asked to slow down", "interval", interval)
			case "access_denied":
				return nil, fmt.Errorf("%w: user declined the authorization", ErrDeviceAccessDenied)
			case "expired_token":
				return nil, fmt.Errorf("%w: device code expired", ErrDeviceFlowExpired)
			default:
				return nil, fmt.Errorf("%w: %s: %s", ErrTokenRequestFailed, oe.Code, oe.Description)
			}
			timer.Reset(interval)
			continue
		}

		result := &AuthResult{Token: token}
		if token.IDToken != "" {
			claims, err := d.validator.validate(ctx, token.IDToken, "", token.AccessToken, false)
			if err != nil {
				return nil, err
			}
			result.Claims = claims
		}

		d.logger.Debug("device flow completed")
		return result, nil
	}
}

// pollOnce makes one device-grant token request. The OAuth error code
// comes back as a value: authorization_pending and slow_down are
// control flow for the poll loop, not failures. Some providers send
// these with status 200, so the body is checked before the status.
func (d *deviceFlow) pollOnce(ctx context.Context, deviceCode string) (*Token, *oauthError, error) {
	ep, err := d.discovery.Endpoints(ctx)
	if err != nil {
		return nil, nil, err
	}
	if ep.token == "" {
		return nil, nil, fmt.Errorf("%w: provider has no token endpoint", ErrTokenRequestFailed)
	}

	data := url.Values{}
	data.Set("grant_type", deviceGrantType)
	data.Set("device_code", deviceCode)
	data.Set("client_id", d.config.ClientID)
	if d.config.ClientSecret != "" {
		data.Set("client_secret", d.config.ClientSecret)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ep.token, strings.NewReader(data.Encode()))
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrTokenRequestFailed, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrTokenRequestFailed, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxTokenResponseSize))
	if err != nil {
		return nil, nil, fmt.Errorf("%w: failed to read response: %v", ErrTokenRequestFailed, err)
	}

	if oe := parseOAuthError(body); oe != nil {
		return nil, oe, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, nil, fmt.Errorf("%w: status %d: %s", ErrTokenRequestFailed, resp.StatusCode, string(body))
	}

	token, err := tokenFromResponse(body)
	if err != nil {
		return nil, nil, err
	}
	return token, nil, nil
}
