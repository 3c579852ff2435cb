// Package onebot drives the host account through a OneBot v11 HTTP endpoint
// (go-cqhttp, NapCat, Lagrange and similar).
package onebot

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
	"time"

	"github.com/nextlevelbuilder/qqrelay/internal/host"
	"github.com/nextlevelbuilder/qqrelay/internal/store"
)

// Config configures the client.
type Config struct {
	URL         string
	AccessToken string
	// ClickAction is the implementation-specific action that presses a keyboard button.
	ClickAction string
	// BotAppID is the official bot's app id, required by most click actions.
	BotAppID string
	Timeout  time.Duration
}

// Client implements host.Host over OneBot HTTP.
type Client struct {
	cfg    Config
	client *http.Client
	retry  retryPolicy
}

var _ host.Host = (*Client)(nil)

// New creates a client. Zero Timeout means 15s.
func New(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.ClickAction == "" {
		cfg.ClickAction = "click_inline_keyboard_button"
	}
	cfg.URL = strings.TrimRight(cfg.URL, "/")
	return &Client{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		retry:  defaultRetryPolicy(),
	}
}

// SendOwnChannelMessage posts text via send_group_msg or send_private_msg.
func (c *Client) SendOwnChannelMessage(ctx context.Context, conversationKey, text string) error {
	kind, id, err := host.ParseKey(conversationKey)
	if err != nil {
		return err
	}
	num, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		return fmt.Errorf("onebot: conversation id %q is not numeric", id)
	}

	action := "send_group_msg"
	params := map[string]interface{}{"group_id": num, "message": text}
	if kind == host.KindPrivate {
		action = "send_private_msg"
		params = map[string]interface{}{"user_id": num, "message": text}
	}
	_, err = c.call(ctx, action, params, c.retry)
	return err
}

// ClickButton presses the bound keyboard button in the binding's group.
func (c *Client) ClickButton(ctx context.Context, b store.ButtonBinding) error {
	_, id, err := host.ParseKey(b.ConversationKey)
	if err != nil {
		return err
	}
	params := map[string]interface{}{
		"group_id":      id,
		"bot_appid":     c.cfg.BotAppID,
		"button_id":     b.ActionID,
		"callback_data": b.ActionPayload,
	}
	// A retried click could fire the callback twice, so it gets one attempt.
	_, err = c.call(ctx, c.cfg.ClickAction, params, retryPolicy{})
	return err
}

type response struct {
	Status  string          `json:"status"`
	RetCode int             `json:"retcode"`
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message"`
	Wording string          `json:"wording"`
}

// RetCodeError is a non-zero OneBot retcode.
type RetCodeError struct {
	Action  string
	RetCode int
	Message string
}

func (e *RetCodeError) Error() string {
	return fmt.Sprintf("onebot %s: retcode=%d %s", e.Action, e.RetCode, e.Message)
}

func (c *Client) call(ctx context.Context, action string, params interface{}, policy retryPolicy) (json.RawMessage, error) {
	if c.cfg.URL == "" {
		return nil, fmt.Errorf("onebot: url not configured")
	}
	body, err := json.Marshal(params)
	if err != nil {
		return nil, err
	}

	var data json.RawMessage
	attempts, err := withRetry(ctx, policy, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.URL+"/"+action, bytes.NewReader(body))
		if err != nil {
			return permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")
		if c.cfg.AccessToken != "" {
			req.Header.Set("Authorization", "Bearer "+c.cfg.AccessToken)
		}

		resp, err := c.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if err != nil {
			return err
		}
		switch {
		case resp.StatusCode >= 500:
			return fmt.Errorf("onebot %s: status %d", action, resp.StatusCode)
		case resp.StatusCode >= 400:
			return permanent(fmt.Errorf("onebot %s: status %d", action, resp.StatusCode))
		}

		var r response
		if err := json.Unmarshal(raw, &r); err != nil {
			return permanent(fmt.Errorf("onebot %s decode: %w", action, err))
		}
		if r.RetCode != 0 || (r.Status != "" && r.Status != "ok" && r.Status != "async") {
			msg := r.Wording
			if msg == "" {
				msg = r.Message
			}
			return permanent(&RetCodeError{Action: action, RetCode: r.RetCode, Message: msg})
		}
		data = r.Data
		return nil
	})
	if err != nil {
		slog.Warn("onebot call failed", "action", action, "attempts", attempts, "error", err)
		return nil, err
	}
	return data, nil
}
