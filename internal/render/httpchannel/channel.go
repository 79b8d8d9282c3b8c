// Package httpchannel sends render traffic to a renderer that exposes an
// HTTP API. Progress and results come back through the API's callback
// endpoint.
package httpchannel

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	v1 "subforge/internal/contracts/renderer/v1"
	"subforge/internal/pkg/errors"
)

const (
	renderPath = "/render"
	cancelPath = "/render/cancel"
)

type Channel struct {
	baseURL string
	client  *http.Client
}

// New returns a channel posting to baseURL. A nil client gets a 30 second
// timeout; the renderer only has to acknowledge, not finish.
func New(baseURL string, client *http.Client) *Channel {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &Channel{baseURL: strings.TrimRight(baseURL, "/"), client: client}
}

func (c *Channel) Send(ctx context.Context, req v1.RenderRequest) error {
	return c.post(ctx, "httpchannel.send", renderPath, req)
}

func (c *Channel) Cancel(ctx context.Context, msg v1.CancelMessage) error {
	return c.post(ctx, "httpchannel.cancel", cancelPath, msg)
}

func (c *Channel) post(ctx context.Context, op, path string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return errors.Wrap(err, op, "encode payload")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return errors.Wrap(err, op, "build request")
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := c.client.Do(req)
	if err != nil {
		return errors.WrapWithCode(err, errors.CodeUnavailable, op, "renderer unreachable")
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(res.Body, 512))
		return errors.Newf(errors.CodeUnavailable, "renderer http %d: %s", res.StatusCode, strings.TrimSpace(string(snippet))).
			WithField("status", res.StatusCode).
			WithField("op", op)
	}
	_, _ = io.Copy(io.Discard, res.Body)
	return nil
}

// Ping reports whether the renderer answers at all.
func (c *Channel) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return err
	}
	res, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode >= 500 {
		return fmt.Errorf("renderer health: http %d", res.StatusCode)
	}
	return nil
}
