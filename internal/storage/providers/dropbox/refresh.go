package dropbox

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	log "github.com/sirupsen/logrus"
)

const dropboxTokenURL = "https://api.dropboxapi.com/oauth2/token"

// RefreshingToken exchanges a long-lived refresh token for short-lived
// access tokens and caches each one until shortly before it expires.
type RefreshingToken struct {
	mu sync.Mutex

	appKey       string
	refreshToken string
	tokenURL     string
	httpClient   *http.Client
	clock        clockwork.Clock

	accessToken string
	expiresAt   time.Time

	// Margin before expiry to trigger refresh (default: 5 minutes)
	refreshMargin time.Duration
}

// NewRefreshingToken creates a token source for an app registered with
// PKCE, which needs the app key but no secret.
func NewRefreshingToken(appKey, refreshToken string, clock clockwork.Clock) *RefreshingToken {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &RefreshingToken{
		appKey:        appKey,
		refreshToken:  refreshToken,
		tokenURL:      dropboxTokenURL,
		httpClient:    &http.Client{Timeout: 30 * time.Second},
		clock:         clock,
		refreshMargin: 5 * time.Minute,
	}
}

// Token returns a valid access token, refreshing if necessary
func (t *RefreshingToken) Token(ctx context.Context) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.accessToken != "" && t.clock.Now().Add(t.refreshMargin).Before(t.expiresAt) {
		return t.accessToken, nil
	}
	if t.refreshToken == "" {
		return "", fmt.Errorf("dropbox refresh token is not configured")
	}

	token, expiresIn, err := t.refresh(ctx)
	if err != nil {
		return "", err
	}
	t.accessToken = token
	t.expiresAt = t.clock.Now().Add(time.Duration(expiresIn) * time.Second)
	log.Printf("[DROPBOX] Refreshed access token, expires at %s", t.expiresAt.Format(time.RFC3339))
	return t.accessToken, nil
}

// Invalidate drops the cached access token so the next call refreshes.
func (t *RefreshingToken) Invalidate() {
	t.mu.Lock()
	t.accessToken = ""
	t.mu.Unlock()
}

func (t *RefreshingToken) refresh(ctx context.Context) (string, int, error) {
	data := url.Values{}
	data.Set("grant_type", "refresh_token")
	data.Set("refresh_token", t.refreshToken)
	data.Set("client_id", t.appKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.tokenURL, strings.NewReader(data.Encode()))
	if err != nil {
		return "", 0, fmt.Errorf("failed to create refresh request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return "", 0, fmt.Errorf("failed to refresh token: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", 0, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var errResp struct {
			Error            string `json:"error"`
			ErrorDescription string `json:"error_description"`
		}
		if json.Unmarshal(body, &errResp) == nil && errResp.Error != "" {
			return "", 0, fmt.Errorf("token refresh failed: %s - %s", errResp.Error, errResp.ErrorDescription)
		}
		return "", 0, fmt.Errorf("token refresh failed with status %d: %s", resp.StatusCode, string(body))
	}

	var tokenResp struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.Unmarshal(body, &tokenResp); err != nil {
		return "", 0, fmt.Errorf("failed to parse refresh response: %w", err)
	}
	if tokenResp.AccessToken == "" {
		return "", 0, fmt.Errorf("token refresh returned no access token")
	}
	return tokenResp.AccessToken, tokenResp.ExpiresIn, nil
}
