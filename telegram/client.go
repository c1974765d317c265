// Package telegram is a minimal Telegram Bot API client used both for the
// preference wizard and as the notification transport.
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/codeGROOVE-dev/retry"
)

const (
	sendAttempts   = 3
	sendRetryDelay = 5 * time.Second
)

// Update represents a Telegram update. Only fields we need.
type Update struct {
	UpdateID      int            `json:"update_id"`
	Message       *Message       `json:"message,omitempty"`
	CallbackQuery *CallbackQuery `json:"callback_query,omitempty"`
}

type Message struct {
	MessageID int    `json:"message_id"`
	Chat      Chat   `json:"chat"`
	Text      string `json:"text"`
}

type Chat struct {
	ID int64 `json:"id"`
}

// CallbackQuery carries an inline-keyboard button press.
type CallbackQuery struct {
	ID      string   `json:"id"`
	Data    string   `json:"data"`
	Message *Message `json:"message,omitempty"`
}

type InlineKeyboardButton struct {
	Text         string `json:"text"`
	CallbackData string `json:"callback_data"`
}

type InlineKeyboardMarkup struct {
	InlineKeyboard [][]InlineKeyboardButton `json:"inline_keyboard"`
}

// BotCommand describes a bot command for the Telegram menu.
type BotCommand struct {
	Command     string `json:"command"`
	Description string `json:"description"`
}

// APIError is a non-OK response from the Bot API.
type APIError struct {
	Code        int
	Description string
	RetryAfter  time.Duration // set when Code is 429
}

func (e *APIError) Error() string {
	return fmt.Sprintf("telegram: %d %s", e.Code, e.Description)
}

// retryable reports whether the failure belongs in the fixed transient-error
// retry budget. Rate limits are handled separately: one server-directed wait,
// one retry.
func (e *APIError) retryable() bool {
	return e.Code >= 500
}

// Client is a minimal Telegram Bot API client.
type Client struct {
	token      string
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

func NewClient(token string, logger *slog.Logger) *Client {
	return &Client{
		token:      token,
		baseURL:    "https://api.telegram.org",
		httpClient: &http.Client{Timeout: 65 * time.Second},
		logger:     logger,
	}
}

func (c *Client) url(method string) string {
	return c.baseURL + "/bot" + c.token + "/" + method
}

// call posts a JSON payload to a Bot API method and returns the raw result.
func (c *Client) call(ctx context.Context, method string, payload any) (json.RawMessage, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", method, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url(method), bytes.NewReader(b))
	if err != nil {
		return nil, fmt.Errorf("create %s request: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", method, err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			c.logger.Warn("Failed to close response body", "error", closeErr)
		}
	}()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read %s response: %w", method, err)
	}

	var wrapper struct {
		OK          bool            `json:"ok"`
		Result      json.RawMessage `json:"result"`
		ErrorCode   int             `json:"error_code"`
		Description string          `json:"description"`
		Parameters  *struct {
			RetryAfter int `json:"retry_after"`
		} `json:"parameters"`
	}
	if err := json.Unmarshal(body, &wrapper); err != nil {
		return nil, fmt.Errorf("decode %s response (HTTP %d): %w", method, resp.StatusCode, err)
	}
	if !wrapper.OK {
		apiErr := &APIError{Code: wrapper.ErrorCode, Description: wrapper.Description}
		if apiErr.Code == 0 {
			apiErr.Code = resp.StatusCode
		}
		if wrapper.Parameters != nil && wrapper.Parameters.RetryAfter > 0 {
			apiErr.RetryAfter = time.Duration(wrapper.Parameters.RetryAfter) * time.Second
		}
		return nil, apiErr
	}
	return wrapper.Result, nil
}

// SendMessage sends a Markdown message, optionally with an inline keyboard.
// A rate-limit response is honored by waiting exactly the server-supplied
// duration and retrying once; transient errors are retried a fixed number of
// times with a fixed delay; other API errors abort immediately.
func (c *Client) SendMessage(ctx context.Context, chatID int64, text string, keyboard *InlineKeyboardMarkup) error {
	payload := map[string]any{
		"chat_id":                  chatID,
		"text":                     text,
		"parse_mode":               "Markdown",
		"disable_web_page_preview": true,
	}
	if keyboard != nil {
		payload["reply_markup"] = keyboard
	}

	err := c.sendWithRetry(ctx, chatID, payload)

	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Code == http.StatusTooManyRequests {
		wait := apiErr.RetryAfter
		if wait <= 0 {
			wait = sendRetryDelay
		}
		c.logger.Warn("Rate limited by Telegram, retrying once", "chat_id", chatID, "retry_after", wait)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
		err = c.sendWithRetry(ctx, chatID, payload)
	}

	if err != nil {
		return fmt.Errorf("send message after retries: %w", err)
	}
	return nil
}

// sendWithRetry runs the transient-error retry budget for one send. Rate
// limits and client errors exit immediately so the caller decides.
func (c *Client) sendWithRetry(ctx context.Context, chatID int64, payload map[string]any) error {
	return retry.Do(
		func() error {
			_, callErr := c.call(ctx, "sendMessage", payload)
			if callErr == nil {
				return nil
			}
			var apiErr *APIError
			if errors.As(callErr, &apiErr) && !apiErr.retryable() {
				return retry.Unrecoverable(callErr)
			}
			return callErr
		},
		retry.Attempts(sendAttempts),
		retry.Delay(sendRetryDelay),
		retry.DelayType(retry.FixedDelay),
		retry.Context(ctx),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			c.logger.Info("Retrying Telegram send after error", "attempt", n, "chat_id", chatID, "error", err)
		}),
	)
}

// Send delivers a message and reports success. Failures are logged, never
// surfaced: a lost notification must not break a monitoring loop.
func (c *Client) Send(ctx context.Context, chatID int64, text string) bool {
	if err := c.SendMessage(ctx, chatID, text, nil); err != nil {
		c.logger.Error("Failed to send Telegram message", "chat_id", chatID, "error", err)
		return false
	}
	return true
}

// GetUpdates long-polls for updates starting at offset.
func (c *Client) GetUpdates(ctx context.Context, offset, timeoutSec int) ([]Update, error) {
	payload := map[string]any{
		"offset":  offset,
		"timeout": timeoutSec,
	}
	result, err := c.call(ctx, "getUpdates", payload)
	if err != nil {
		return nil, err
	}
	var updates []Update
	if err := json.Unmarshal(result, &updates); err != nil {
		return nil, fmt.Errorf("decode updates: %w", err)
	}
	return updates, nil
}

// AnswerCallback acknowledges an inline-keyboard press so the client stops
// showing a spinner.
func (c *Client) AnswerCallback(ctx context.Context, callbackID string) error {
	_, err := c.call(ctx, "answerCallbackQuery", map[string]any{"callback_query_id": callbackID})
	return err
}

// SetCommands registers the bot commands shown in the Telegram UI.
func (c *Client) SetCommands(ctx context.Context, commands []BotCommand) error {
	_, err := c.call(ctx, "setMyCommands", map[string]any{"commands": commands})
	return err
}
