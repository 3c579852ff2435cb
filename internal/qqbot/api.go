package qqbot

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/nextlevelbuilder/qqrelay/internal/capability"
	"github.com/nextlevelbuilder/qqrelay/pkg/protocol"
)

const apiTimeout = 20 * time.Second

// TokenSource supplies the bearer token for API calls.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// APIError is a rejection reported by the official API. When returned from a
// send using a capability token it means the capability is no longer usable.
type APIError struct {
	Status  int
	Code    int
	Message string
	TraceID string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("qqbot api: status=%d code=%d msg=%s", e.Status, e.Code, e.Message)
}

// IsCapabilityError reports whether err is a remote rejection rather than a
// transport failure. Rejections of the app's own credentials are not.
func IsCapabilityError(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && !apiErr.IsAuth()
}

// IsAuth reports whether the API refused the app access token itself.
func (e *APIError) IsAuth() bool {
	return e.Status == http.StatusUnauthorized
}

// APIClient calls the official bot OpenAPI.
type APIClient struct {
	base    string
	appID   string
	tokens  TokenSource
	client  *http.Client
	limiter *rate.Limiter
	seq     atomic.Uint32
}

// NewAPIClient creates a client. rps <= 0 disables send throttling.
func NewAPIClient(base, appID string, tokens TokenSource, rps float64) *APIClient {
	c := &APIClient{
		base:   strings.TrimRight(base, "/"),
		appID:  appID,
		tokens: tokens,
		client: &http.Client{Timeout: apiTimeout},
	}
	if rps > 0 {
		burst := int(rps)
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
	return c
}

// GatewayURL discovers the WebSocket endpoint.
func (c *APIClient) GatewayURL(ctx context.Context) (string, error) {
	var out struct {
		URL string `json:"url"`
	}
	if err := c.do(ctx, http.MethodGet, "/gateway", nil, &out); err != nil {
		return "", err
	}
	if out.URL == "" {
		return "", fmt.Errorf("qqbot gateway: empty url")
	}
	return out.URL, nil
}

// OutboundMessage is a single send. Exactly one of Content, Markdown or FileInfo drives MsgType.
type OutboundMessage struct {
	Content    string
	Markdown   string
	KeyboardID string
	FileInfo   string
}

func (m OutboundMessage) msgType() int {
	switch {
	case m.FileInfo != "":
		return protocol.MsgTypeMedia
	case m.Markdown != "":
		return protocol.MsgTypeMarkdown
	default:
		return protocol.MsgTypeText
	}
}

// SendResult is the API's acknowledgement of a send.
type SendResult struct {
	ID        string `json:"id"`
	Timestamp string `json:"timestamp"`
}

// SendMessage posts msg to the conversation entry is scoped to, authorized by entry.Token.
func (c *APIClient) SendMessage(ctx context.Context, entry capability.Entry, msg OutboundMessage) (*SendResult, error) {
	if entry.BoundID == "" {
		return nil, fmt.Errorf("qqbot send: empty bound id")
	}
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	body := map[string]interface{}{
		"msg_type": msg.msgType(),
		"msg_seq":  c.seq.Add(1),
	}
	if msg.Content != "" || msg.FileInfo != "" {
		body["content"] = msg.Content
	}
	if msg.Markdown != "" {
		body["markdown"] = map[string]string{"content": msg.Markdown}
	}
	if msg.KeyboardID != "" {
		body["keyboard"] = map[string]string{"id": msg.KeyboardID}
	}
	if msg.FileInfo != "" {
		body["media"] = map[string]string{"file_info": msg.FileInfo}
	}
	switch entry.Kind {
	case capability.KindMsgID:
		body["msg_id"] = entry.Token
	default:
		body["event_id"] = entry.Token
	}

	var out SendResult
	if err := c.do(ctx, http.MethodPost, conversationPath(entry.ChatType, entry.BoundID)+"/messages", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// UploadMedia registers a rich-media file for the conversation and returns its file_info.
// Either data (sent base64) or url must be set.
func (c *APIClient) UploadMedia(ctx context.Context, chat capability.ChatType, boundID string, fileType int, data []byte, url string) (string, error) {
	body := map[string]interface{}{
		"file_type":    fileType,
		"srv_send_msg": false,
	}
	if len(data) > 0 {
		body["file_data"] = base64.StdEncoding.EncodeToString(data)
	} else if url != "" {
		body["url"] = url
	} else {
		return "", fmt.Errorf("qqbot upload: no media data")
	}

	var out struct {
		FileUUID string `json:"file_uuid"`
		FileInfo string `json:"file_info"`
		TTL      int    `json:"ttl"`
	}
	if err := c.do(ctx, http.MethodPost, conversationPath(chat, boundID)+"/files", body, &out); err != nil {
		return "", err
	}
	if out.FileInfo == "" {
		return "", fmt.Errorf("qqbot upload: empty file_info")
	}
	return out.FileInfo, nil
}

// AckInteraction answers an INTERACTION_CREATE so the client stops showing a spinner.
func (c *APIClient) AckInteraction(ctx context.Context, interactionID string) error {
	return c.do(ctx, http.MethodPut, "/interactions/"+interactionID, map[string]int{"code": 0}, nil)
}

func conversationPath(chat capability.ChatType, boundID string) string {
	if chat == capability.ChatC2C {
		return "/v2/users/" + boundID
	}
	return "/v2/groups/" + boundID
}

type apiEnvelope struct {
	Code    *int   `json:"code"`
	Message string `json:"message"`
}

func (c *APIClient) do(ctx context.Context, method, path string, in, out interface{}) error {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return fmt.Errorf("qqbot auth: %w", err)
	}

	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "QQBot "+token)
	req.Header.Set("X-Union-Appid", c.appID)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("qqbot %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("qqbot %s %s read: %w", method, path, err)
	}
	if resp.StatusCode >= 500 {
		return fmt.Errorf("qqbot %s %s: server status %d", method, path, resp.StatusCode)
	}

	var env apiEnvelope
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &env)
	}
	if resp.StatusCode >= 300 || (env.Code != nil && *env.Code != 0) {
		apiErr := &APIError{Status: resp.StatusCode, Message: env.Message, TraceID: resp.Header.Get("X-Tps-Trace-Id")}
		if env.Code != nil {
			apiErr.Code = *env.Code
		}
		if apiErr.IsAuth() {
			if inv, ok := c.tokens.(interface{ Invalidate() }); ok {
				inv.Invalidate()
			}
		}
		return apiErr
	}

	if out != nil && len(raw) > 0 {
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("qqbot %s %s decode: %w", method, path, err)
		}
	}
	return nil
}
