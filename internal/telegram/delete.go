package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// DeleteMessage removes a message. Telegram answers 400 when the message is
// already gone (or can no longer be deleted); both count as success so the
// record can be dropped.
//
// This goes through net/http instead of telebot: telebot folds Bot API
// errors it does not know into plain strings, losing the HTTP status.
func (c *Client) DeleteMessage(ctx context.Context, chatID string, messageID int) (DeleteResult, error) {
	if err := c.wait(ctx); err != nil {
		return 0, err
	}
	payload, err := json.Marshal(struct {
		ChatID    string `json:"chat_id"`
		MessageID int    `json:"message_id"`
	}{ChatID: chatID, MessageID: messageID})
	if err != nil {
		return 0, err
	}

	url := c.cfg.APIURL + "/bot" + c.cfg.Token + "/deleteMessage"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		// The token is part of the URL; never surface it.
		return 0, fmt.Errorf("deleteMessage %d in %s: request failed: %w", messageID, chatID, redact(err, c.cfg.Token))
	}
	defer resp.Body.Close()

	var out struct {
		OK          bool   `json:"ok"`
		ErrorCode   int    `json:"error_code"`
		Description string `json:"description"`
	}
	_ = json.NewDecoder(io.LimitReader(resp.Body, 1<<16)).Decode(&out)

	switch resp.StatusCode {
	case http.StatusOK:
		return Deleted, nil
	case http.StatusBadRequest:
		return AlreadyAbsent, nil
	}
	if out.Description != "" {
		return 0, fmt.Errorf("deleteMessage %d in %s: %s (code=%d http=%d)", messageID, chatID, out.Description, out.ErrorCode, resp.StatusCode)
	}
	return 0, fmt.Errorf("deleteMessage %d in %s: http=%d", messageID, chatID, resp.StatusCode)
}

type redactedError struct {
	msg string
	err error
}

func (e *redactedError) Error() string { return e.msg }
func (e *redactedError) Unwrap() error { return e.err }

func redact(err error, token string) error {
	if err == nil || token == "" {
		return err
	}
	msg := err.Error()
	if !strings.Contains(msg, token) {
		return err
	}
	return &redactedError{msg: strings.ReplaceAll(msg, token, "<token>"), err: err}
}
