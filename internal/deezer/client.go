// Package deezer is the service client: ARL session management, catalog
// reads, stream URL resolution and lyrics.
package deezer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/melodex/melodex-core/internal/errs"
	"github.com/melodex/melodex-core/internal/monitoring"
	"github.com/melodex/melodex-core/internal/network"
)

const (
	defaultAPIBase   = "https://api.deezer.com"
	defaultGWBase    = "https://www.deezer.com/ajax/gw-light.php"
	defaultMediaBase = "https://media.deezer.com"

	userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36"

	// quotaExceededCode is the public API's rate-limit error code.
	quotaExceededCode = 4

	cacheSize = 2048
	cacheTTL  = 10 * time.Minute
)

// Client talks to the service. Safe for concurrent use; catalog reads go
// through a shared expiring LRU so queue expansion does not hammer the API.
type Client struct {
	httpClient *http.Client
	logger     *zap.Logger
	limiter    *rate.Limiter
	cache      *expirable.LRU[string, interface{}]

	apiBase   string
	gwBase    string
	mediaBase string

	mu            sync.RWMutex
	arl           string
	apiToken      string
	licenseToken  string
	userID        string
	authenticated bool
}

// NewClient builds a client on the shared transport tuning.
func NewClient(timeout time.Duration, proxyURL string, logger *zap.Logger) *Client {
	cfg := network.DefaultClientConfig()
	cfg.Timeout = timeout
	cfg.ProxyURL = proxyURL

	if logger == nil {
		logger = zap.NewNop()
	}

	return &Client{
		httpClient: network.NewClient(cfg),
		logger:     logger.Named("deezer"),
		// 10 req/s with a small burst keeps us under the public quota.
		limiter:   rate.NewLimiter(rate.Every(100*time.Millisecond), 10),
		cache:     expirable.NewLRU[string, interface{}](cacheSize, nil, cacheTTL),
		apiBase:   defaultAPIBase,
		gwBase:    defaultGWBase,
		mediaBase: defaultMediaBase,
	}
}

// Authenticate establishes a session from the ARL cookie: resolves the API
// token and user, then the license token needed for media URLs.
func (c *Client) Authenticate(ctx context.Context, arl string) error {
	if arl == "" {
		return errs.Validation("ARL token cannot be empty")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.arl = arl
	if err := c.fetchSession(ctx); err != nil {
		c.authenticated = false
		return err
	}
	c.authenticated = true

	c.logger.Info("authenticated", zap.String("user_id", c.userID))
	return nil
}

// RefreshToken re-authenticates with the stored ARL. Satisfies the recovery
// manager's refresher interface.
func (c *Client) RefreshToken(ctx context.Context) error {
	c.mu.RLock()
	arl := c.arl
	c.mu.RUnlock()

	if arl == "" {
		return errs.Auth("no ARL token available for refresh", nil)
	}
	return c.Authenticate(ctx, arl)
}

// IsAuthenticated reports whether a session is established.
func (c *Client) IsAuthenticated() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.authenticated
}

// fetchSession performs the two getUserData calls: the first (empty token)
// yields the API token and user, the second yields the license token.
// Caller holds c.mu.
func (c *Client) fetchSession(ctx context.Context) error {
	first, err := c.userData(ctx, "")
	if err != nil {
		return err
	}
	if first.userID == "0" || first.userID == "" {
		return errs.Auth("invalid ARL token", nil)
	}
	c.apiToken = first.checkForm
	c.userID = first.userID

	second, err := c.userData(ctx, c.apiToken)
	if err != nil {
		return err
	}
	if second.licenseToken == "" {
		return errs.Auth("license token missing from session", nil)
	}
	c.licenseToken = second.licenseToken
	return nil
}

type sessionData struct {
	checkForm    string
	userID       string
	licenseToken string
}

func (c *Client) userData(ctx context.Context, apiToken string) (*sessionData, error) {
	reqURL := fmt.Sprintf("%s?method=deezer.getUserData&input=3&api_version=1.0&api_token=%s", c.gwBase, apiToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, errs.Network("building session request", err)
	}
	req.Header.Set("Cookie", "arl="+c.arl)
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errs.Network("fetching session", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, errs.FromStatus(resp.StatusCode, "session request rejected")
	}

	var payload struct {
		Results struct {
			CheckForm string `json:"checkForm"`
			User      struct {
				UserID  int64 `json:"USER_ID"`
				Options struct {
					LicenseToken string `json:"license_token"`
				} `json:"OPTIONS"`
			} `json:"USER"`
		} `json:"results"`
		Error interface{} `json:"error"`
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errs.Network("reading session response", err)
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, errs.Network("decoding session response", err)
	}
	// The gateway reports success as an empty error array.
	if msg := gwError(payload.Error); msg != "" {
		return nil, errs.Auth("session rejected: "+msg, nil)
	}

	return &sessionData{
		checkForm:    payload.Results.CheckForm,
		userID:       fmt.Sprintf("%d", payload.Results.User.UserID),
		licenseToken: payload.Results.User.Options.LicenseToken,
	}, nil
}

// gwError normalizes the gateway's error field, which is null, an empty
// array, or an object keyed by error type.
func gwError(raw interface{}) string {
	switch v := raw.(type) {
	case nil:
		return ""
	case []interface{}:
		if len(v) == 0 {
			return ""
		}
		return fmt.Sprintf("%v", v)
	case map[string]interface{}:
		if len(v) == 0 {
			return ""
		}
		return fmt.Sprintf("%v", v)
	default:
		return fmt.Sprintf("%v", v)
	}
}

// gwRequest performs an authenticated gateway (private API) call.
func (c *Client) gwRequest(ctx context.Context, method string, params interface{}) (map[string]interface{}, error) {
	c.mu.RLock()
	if !c.authenticated {
		c.mu.RUnlock()
		return nil, errs.Auth("client not authenticated", nil)
	}
	apiToken := c.apiToken
	arl := c.arl
	c.mu.RUnlock()

	reqURL := fmt.Sprintf("%s?method=%s&input=3&api_version=1.0&api_token=%s&cid=%d",
		c.gwBase, method, apiToken, time.Now().Unix())

	var body io.Reader
	if params != nil {
		data, err := json.Marshal(params)
		if err != nil {
			return nil, errs.Validation("marshalling gateway params: " + err.Error())
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, body)
	if err != nil {
		return nil, errs.Network("building gateway request", err)
	}
	req.Header.Set("Cookie", "arl="+arl)
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.do(ctx, req)
	monitoring.RecordAPIRequest(method, requestStatus(resp, err), time.Since(start))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, errs.FromStatus(resp.StatusCode, "gateway request "+method)
	}

	var result map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, errs.Network("decoding gateway response", err)
	}

	if errData, ok := result["error"].(map[string]interface{}); ok && len(errData) > 0 {
		if code, ok := errData["code"].(float64); ok && code != 0 {
			return nil, errs.Network(fmt.Sprintf("gateway error %v", errData), nil)
		}
	}
	return result, nil
}

// apiRequest performs a public API call. A quota error surfaces as a
// rate-limit error so the recovery layer applies its shared backoff gate
// instead of sleeping inline.
func (c *Client) apiRequest(ctx context.Context, endpoint string, params url.Values) (json.RawMessage, error) {
	reqURL := c.apiBase + endpoint
	if len(params) > 0 {
		reqURL += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, errs.Network("building API request", err)
	}
	req.Header.Set("User-Agent", userAgent)

	start := time.Now()
	resp, err := c.do(ctx, req)
	monitoring.RecordAPIRequest(endpoint, requestStatus(resp, err), time.Since(start))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, errs.FromStatus(resp.StatusCode, "API request "+endpoint)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errs.Network("reading API response", err)
	}

	var errEnvelope struct {
		Error *struct {
			Type    string  `json:"type"`
			Message string  `json:"message"`
			Code    float64 `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &errEnvelope); err == nil && errEnvelope.Error != nil {
		if errEnvelope.Error.Code == quotaExceededCode {
			return nil, errs.RateLimit("API quota exceeded")
		}
		if errEnvelope.Error.Code == 800 {
			return nil, errs.NotFound(fmt.Sprintf("%s: %s", endpoint, errEnvelope.Error.Message))
		}
		return nil, errs.Network(fmt.Sprintf("API error %s: %s", errEnvelope.Error.Type, errEnvelope.Error.Message), nil)
	}

	return body, nil
}

// do applies the client rate limit and maps auth-level status codes.
func (c *Client) do(ctx context.Context, req *http.Request) (*http.Response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, errs.Network("rate limiter interrupted", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errs.Network("request failed", err)
	}

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		resp.Body.Close()
		return nil, errs.FromStatus(resp.StatusCode, "session expired")
	}
	return resp, nil
}

func requestStatus(resp *http.Response, err error) string {
	if err != nil {
		return "error"
	}
	return fmt.Sprintf("%d", resp.StatusCode)
}
