package oidc

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

// AddressClaim is the OIDC address claim structure.
type AddressClaim struct {
	Formatted     string `json:"formatted,omitempty"`
	StreetAddress string `json:"street_address,omitempty"`
	Locality      string `json:"locality,omitempty"`
	Region        string `json:"region,omitempty"`
	PostalCode    string `json:"postal_code,omitempty"`
	Country       string `json:"country,omitempty"`
}

// UserInfo represents the response from the UserInfo endpoint.
type UserInfo struct {
	Subject             string        `json:"sub"`
	Name                string        `json:"name,omitempty"`
	GivenName           string        `json:"given_name,omitempty"`
	FamilyName          string        `json:"family_name,omitempty"`
	MiddleName          string        `json:"middle_name,omitempty"`
	Nickname            string        `json:"nickname,omitempty"`
	PreferredUsername   string        `json:"preferred_username,omitempty"`
	Profile             string        `json:"profile,omitempty"`
	Picture             string        `json:"picture,omitempty"`
	Website             string        `json:"website,omitempty"`
	Email               string        `json:"email,omitempty"`
	EmailVerified       bool          `json:"email_verified,omitempty"`
	Gender              string        `json:"gender,omitempty"`
	Birthdate           string        `json:"birthdate,omitempty"`
	Zoneinfo            string        `json:"zoneinfo,omitempty"`
	Locale              string        `json:"locale,omitempty"`
	PhoneNumber         string        `json:"phone_number,omitempty"`
	PhoneNumberVerified bool          `json:"phone_number_verified,omitempty"`
	Address             *AddressClaim `json:"address,omitempty"`
	UpdatedAt           int64         `json:"updated_at,omitempty"`

	// Custom holds the complete decoded response, including claims
	// without a dedicated field.
	Custom map[string]interface{} `json:"-"`
}

// userInfoEntry represents a cached UserInfo response.
type userInfoEntry struct {
	userInfo  *UserInfo
	expiresAt time.Time
}

// userInfoClient handles UserInfo endpoint requests and caching.
// Cache entries are keyed by a hash of the access token, never the
// token itself.
type userInfoClient struct {
	mu         sync.RWMutex
	httpClient HTTPClient
	config     *Config
	discovery  *discoveryClient
	logger     *slog.Logger
	cache      map[string]*userInfoEntry
}

// newUserInfoClient creates a new UserInfo client.
func newUserInfoClient(httpClient HTTPClient, config *Config, discovery *discoveryClient, logger *slog.Logger) *userInfoClient {
	return &userInfoClient{
		httpClient: httpClient,
		config:     config,
		discovery:  discovery,
		logger:     logger,
		cache:      make(map[string]*userInfoEntry),
	}
}

// UserInfo fetches user information with the given access token. When
// expectedSubject is non-empty the response's sub claim must match it.
func (c *userInfoClient) UserInfo(ctx context.Context, accessToken, expectedSubject string) (*UserInfo, error) {
	if accessToken == "" {
		return nil, fmt.Errorf("%w: access token required", ErrUserInfoFailed)
	}

	key := cacheKey(accessToken)
	if cached := c.getFromCache(key); cached != nil {
		if expectedSubject != "" && cached.Subject != expectedSubject {
			return nil, fmt.Errorf("%w: userinfo sub %q does not match id token sub %q",
				ErrUserInfoSubjectMismatch, cached.Subject, expectedSubject)
		}
		return cached, nil
	}

	ep, err := c.discovery.Endpoints(ctx)
	if err != nil {
		return nil, err
	}
	if ep.userInfo == "" {
		return nil, fmt.Errorf("%w: provider has no userinfo endpoint", ErrUserInfoFailed)
	}

	userInfo, err := c.fetchUserInfo(ctx, ep.userInfo, accessToken)
	if err != nil {
		return nil, err
	}

	if expectedSubject != "" && userInfo.Subject != expectedSubject {
		return nil, fmt.Errorf("%w: userinfo sub %q does not match id token sub %q",
			ErrUserInfoSubjectMismatch, userInfo.Subject, expectedSubject)
	}

	c.cacheUserInfo(key, userInfo)

	return userInfo, nil
}

// fetchUserInfo makes the HTTP request to the UserInfo endpoint.
func (c *userInfoClient) fetchUserInfo(ctx context.Context, userInfoURL, accessToken string) (*UserInfo, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, userInfoURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create request: %v", ErrUserInfoFailed, err)
	}

	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: request failed: %v", ErrUserInfoFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("%w: unexpected status %d: %s", ErrUserInfoFailed, resp.StatusCode, string(body))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxTokenResponseSize))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read response: %v", ErrUserInfoFailed, err)
	}

	var userInfo UserInfo
	if err := json.Unmarshal(body, &userInfo); err != nil {
		return nil, fmt.Errorf("%w: failed to parse response: %v", ErrUserInfoFailed, err)
	}
	if userInfo.Subject == "" {
		return nil, fmt.Errorf("%w: missing sub claim", ErrUserInfoFailed)
	}
	if err := json.Unmarshal(body, &userInfo.Custom); err != nil {
		return nil, fmt.Errorf("%w: failed to parse response: %v", ErrUserInfoFailed, err)
	}

	return &userInfo, nil
}

// getFromCache retrieves cached UserInfo if present and not expired.
func (c *userInfoClient) getFromCache(key string) *UserInfo {
	if !c.config.Cache.Enabled {
		return nil
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, exists := c.cache[key]
	if !exists || time.Now().After(entry.expiresAt) {
		return nil
	}
	return entry.userInfo
}

// cacheUserInfo stores a UserInfo response, sweeping expired entries
// while the lock is held.
func (c *userInfoClient) cacheUserInfo(key string, userInfo *UserInfo) {
	if !c.config.Cache.Enabled {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.cache[key] = &userInfoEntry{
		userInfo:  userInfo,
		expiresAt: time.Now().Add(c.config.Cache.TTL),
	}

	now := time.Now()
	for k, entry := range c.cache {
		if now.After(entry.expiresAt) {
			delete(c.cache, k)
		}
	}
}

// ClearCache removes all cached UserInfo responses.
func (c *userInfoClient) ClearCache() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache = make(map[string]*userInfoEntry)
}
