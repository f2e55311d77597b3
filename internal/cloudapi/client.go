package cloudapi

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const (
	tokenPath         = "/v1.0/account/token"
	stationListPath   = "/v1.0/station/listWithDevice"
	stationLatestPath = "/v1.0/station/latest"
	deviceLatestPath  = "/v1.0/device/latest"

	successCode     = "0"
	authExpiredCode = "2101"

	// MaxDeviceBatch is the upstream limit on serials per latest-data call.
	MaxDeviceBatch = 10

	tokenSafetyBuffer    = 60 * time.Second
	tokenRefreshMargin   = 5 * time.Minute
	defaultTokenLifetime = 7200 * time.Second
)

// Options parameterise the cloud API client.
type Options struct {
	BaseURL   string
	AppID     string
	AppSecret string
	Email     string
	Password  string
	Timeout   time.Duration
}

// Client authenticates against the device-cloud API and issues requests with
// transparent token refresh. Token state is process-local; concurrent
// re-authentication is at worst wasteful, never torn.
type Client struct {
	opts    Options
	logger  zerolog.Logger
	client  *http.Client
	baseURL string

	mu          sync.Mutex
	token       string
	tokenExpiry time.Time
}

// New constructs a cloud API client.
func New(opts Options, logger zerolog.Logger) *Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.solarmanpv.com"
	}

	return &Client{
		opts:    opts,
		logger:  logger.With().Str("component", "cloudapi").Logger(),
		client:  &http.Client{Timeout: timeout},
		baseURL: baseURL,
	}
}

// GetAccessToken returns the cached bearer token while it is comfortably
// inside its validity window, authenticating otherwise.
func (c *Client) GetAccessToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tokenLocked(ctx)
}

func (c *Client) tokenLocked(ctx context.Context) (string, error) {
	if c.token != "" && time.Now().Before(c.tokenExpiry.Add(-tokenSafetyBuffer)) {
		return c.token, nil
	}
	return c.authenticateLocked(ctx)
}

type tokenResponse struct {
	Success     bool   `json:"success"`
	Message     string `json:"msg"`
	AccessToken string `json:"accessToken"`
	ExpiresIn   int64  `json:"expiresIn"`
}

func (c *Client) authenticateLocked(ctx context.Context) (string, error) {
	if c.opts.AppID == "" || c.opts.AppSecret == "" || c.opts.Email == "" || c.opts.Password == "" {
		return "", ErrNotConfigured
	}

	// The password never travels in the clear.
	digest := sha256.Sum256([]byte(c.opts.Password))

	payload := map[string]string{
		"appSecret": c.opts.AppSecret,
		"email":     c.opts.Email,
		"password":  hex.EncodeToString(digest[:]),
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal token request: %w", err)
	}

	endpoint := fmt.Sprintf("%s%s?appId=%s", c.baseURL, tokenPath, c.opts.AppID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("send token request: %w", err)
	}
	defer resp.Body.Close()

	payloadBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read token response: %w", err)
	}

	var tokenRes tokenResponse
	if unmarshalErr := json.Unmarshal(payloadBytes, &tokenRes); unmarshalErr != nil && resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return "", fmt.Errorf("decode token response: %w", unmarshalErr)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 || !tokenRes.Success || tokenRes.AccessToken == "" {
		c.token = ""
		c.tokenExpiry = time.Time{}
		return "", &AuthError{Message: tokenRes.Message}
	}

	lifetime := time.Duration(tokenRes.ExpiresIn) * time.Second
	if lifetime <= 0 {
		lifetime = defaultTokenLifetime
	}

	c.token = "Bearer " + tokenRes.AccessToken
	c.tokenExpiry = time.Now().Add(lifetime - tokenRefreshMargin)

	c.logger.Info().Time("expiry", c.tokenExpiry).Msg("authenticated against cloud api")
	return c.token, nil
}

func (c *Client) invalidateToken() {
	c.mu.Lock()
	c.token = ""
	c.tokenExpiry = time.Time{}
	c.mu.Unlock()
}

type envelope struct {
	Code    json.Number `json:"code"`
	Message string      `json:"msg"`
}

// Request posts a JSON payload to the given API path, retrying exactly once
// with a fresh token when the failure is auth-shaped.
func (c *Client) Request(ctx context.Context, path string, payload any) ([]byte, error) {
	token, err := c.GetAccessToken(ctx)
	if err != nil {
		return nil, err
	}

	body, err := c.do(ctx, path, payload, token)
	if err == nil {
		return body, nil
	}

	apiErr, ok := err.(*APIError)
	if !ok || !apiErr.AuthShaped() {
		return nil, err
	}

	c.logger.Warn().Str("path", path).Str("code", apiErr.Code).Msg("auth-shaped failure, re-authenticating once")
	c.invalidateToken()

	token, authErr := c.GetAccessToken(ctx)
	if authErr != nil {
		return nil, authErr
	}

	return c.do(ctx, path, payload, token)
}

func (c *Client) do(ctx context.Context, path string, payload any, token string) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal request payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create api request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", token)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send api request: %w", err)
	}
	defer resp.Body.Close()

	payloadBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read api response: %w", err)
	}

	var env envelope
	_ = json.Unmarshal(payloadBytes, &env)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &APIError{Status: resp.StatusCode, Code: env.Code.String(), Message: env.Message}
	}
	if code := env.Code.String(); code != "" && code != successCode {
		return nil, &APIError{Status: resp.StatusCode, Code: code, Message: env.Message}
	}

	return payloadBytes, nil
}

// ListStations fetches one page of stations with their attached devices.
func (c *Client) ListStations(ctx context.Context, page, size int) ([]Station, error) {
	body, err := c.Request(ctx, stationListPath, map[string]int{"page": page, "size": size})
	if err != nil {
		return nil, err
	}

	var res struct {
		StationList []Station `json:"stationList"`
	}
	if err := json.Unmarshal(body, &res); err != nil {
		return nil, fmt.Errorf("decode station list: %w", err)
	}
	return res.StationList, nil
}

// StationLatest fetches realtime aggregate metrics for one station.
func (c *Client) StationLatest(ctx context.Context, stationID int64) (StationMetrics, error) {
	body, err := c.Request(ctx, stationLatestPath, map[string]int64{"stationId": stationID})
	if err != nil {
		return StationMetrics{}, err
	}

	var metrics StationMetrics
	if err := json.Unmarshal(body, &metrics); err != nil {
		return StationMetrics{}, fmt.Errorf("decode station metrics: %w", err)
	}
	return metrics, nil
}

// DeviceLatest fetches the latest reading for up to MaxDeviceBatch serials.
// Oversized batches are a caller error and never reach the network.
func (c *Client) DeviceLatest(ctx context.Context, serials []string) ([]DeviceData, error) {
	if len(serials) == 0 {
		return nil, nil
	}
	if len(serials) > MaxDeviceBatch {
		return nil, fmt.Errorf("device batch of %d exceeds the upstream limit of %d serials", len(serials), MaxDeviceBatch)
	}

	deviceList := make([]map[string]string, 0, len(serials))
	for _, sn := range serials {
		deviceList = append(deviceList, map[string]string{"deviceSn": sn})
	}

	body, err := c.Request(ctx, deviceLatestPath, map[string]any{"deviceList": deviceList})
	if err != nil {
		return nil, err
	}

	var res struct {
		DeviceDataList []DeviceData `json:"deviceDataList"`
	}
	if err := json.Unmarshal(body, &res); err != nil {
		return nil, fmt.Errorf("decode device data: %w", err)
	}
	return res.DeviceDataList, nil
}
