package qqbot

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

const (
	tokenRefreshMargin = 60 * time.Second
	tokenRetryDelay    = 15 * time.Second
	tokenFetchTimeout  = 15 * time.Second
)

// AccessToken is an app access token. Values are replaced whole, never edited.
type AccessToken struct {
	Value     string
	ExpiresAt time.Time
}

// TokenManager fetches the app access token and keeps it fresh with a single refresh timer.
type TokenManager struct {
	appID    string
	secret   string
	authURL  string
	client   *http.Client
	now      func() time.Time
	retryGap time.Duration

	group singleflight.Group

	mu      sync.Mutex
	current *AccessToken
	timer   *time.Timer
	stopped bool
}

// NewTokenManager creates a manager for appID/secret against authURL (e.g. https://bots.qq.com).
func NewTokenManager(appID, secret, authURL string, client *http.Client) *TokenManager {
	if client == nil {
		client = &http.Client{Timeout: tokenFetchTimeout}
	}
	return &TokenManager{
		appID:    appID,
		secret:   secret,
		authURL:  strings.TrimRight(authURL, "/"),
		client:   client,
		now:      time.Now,
		retryGap: tokenRetryDelay,
	}
}

// GetToken returns a token valid for at least another minute, exchanging credentials if needed.
// Concurrent callers share one exchange.
func (m *TokenManager) GetToken(ctx context.Context) (AccessToken, error) {
	m.mu.Lock()
	cur := m.current
	m.mu.Unlock()
	if cur != nil && m.now().Add(tokenRefreshMargin).Before(cur.ExpiresAt) {
		return *cur, nil
	}

	v, err, _ := m.group.Do("token", func() (interface{}, error) {
		return m.refresh(ctx)
	})
	if err != nil {
		return AccessToken{}, err
	}
	return v.(AccessToken), nil
}

// Token returns just the token value.
func (m *TokenManager) Token(ctx context.Context) (string, error) {
	t, err := m.GetToken(ctx)
	if err != nil {
		return "", err
	}
	return t.Value, nil
}

// Invalidate forgets the cached token so the next GetToken exchanges again.
func (m *TokenManager) Invalidate() {
	m.mu.Lock()
	m.current = nil
	m.mu.Unlock()
}

// Stop cancels the refresh timer. GetToken keeps working on demand afterwards.
func (m *TokenManager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopped = true
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
}

type tokenResponse struct {
	AccessToken string    `json:"access_token"`
	ExpiresIn   flexInt64 `json:"expires_in"`
	Code        int       `json:"code"`
	Message     string    `json:"message"`
}

func (m *TokenManager) refresh(ctx context.Context) (AccessToken, error) {
	if m.appID == "" || m.secret == "" {
		return AccessToken{}, fmt.Errorf("qqbot token: app_id and client_secret are required")
	}

	body, _ := json.Marshal(map[string]string{
		"appId":        m.appID,
		"clientSecret": m.secret,
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.authURL+"/app/getAppAccessToken", bytes.NewReader(body))
	if err != nil {
		return AccessToken{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.client.Do(req)
	if err != nil {
		return AccessToken{}, fmt.Errorf("qqbot token request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return AccessToken{}, fmt.Errorf("qqbot token read: %w", err)
	}
	var tr tokenResponse
	if err := json.Unmarshal(raw, &tr); err != nil {
		return AccessToken{}, fmt.Errorf("qqbot token decode (status %d): %w", resp.StatusCode, err)
	}
	if tr.AccessToken == "" {
		return AccessToken{}, fmt.Errorf("qqbot token rejected: status=%d code=%d msg=%s", resp.StatusCode, tr.Code, tr.Message)
	}

	ttl := time.Duration(tr.ExpiresIn) * time.Second
	tok := AccessToken{Value: tr.AccessToken, ExpiresAt: m.now().Add(ttl)}

	m.mu.Lock()
	m.current = &tok
	m.mu.Unlock()

	next := ttl - tokenRefreshMargin
	if next <= 0 {
		next = time.Second
	}
	m.schedule(next)

	slog.Info("qqbot token refreshed", "expires_in", int64(tr.ExpiresIn))
	return tok, nil
}

// schedule replaces the refresh timer so only one is ever pending.
func (m *TokenManager) schedule(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopped {
		return
	}
	if m.timer != nil {
		m.timer.Stop()
	}
	m.timer = time.AfterFunc(d, m.tick)
}

func (m *TokenManager) tick() {
	ctx, cancel := context.WithTimeout(context.Background(), tokenFetchTimeout)
	defer cancel()

	_, err, _ := m.group.Do("token", func() (interface{}, error) {
		return m.refresh(ctx)
	})
	if err != nil {
		slog.Warn("qqbot token refresh failed, retrying", "error", err, "in", m.retryGap)
		m.schedule(m.retryGap)
	}
}

// flexInt64 accepts both 7200 and "7200".
type flexInt64 int64

func (f *flexInt64) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		*f = 0
		return nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return fmt.Errorf("expires_in %q: %w", s, err)
	}
	*f = flexInt64(n)
	return nil
}
