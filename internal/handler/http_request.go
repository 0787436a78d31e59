package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/t77yq/multisim/internal/dispatch"
	"github.com/t77yq/multisim/internal/model"
)

// webhookPayload is the body posted by the webhook action
type webhookPayload struct {
	Run       string          `json:"run"`
	Event     model.ExitEvent `json:"event"`
	Processor string          `json:"processor"`
	Timestamp time.Time       `json:"timestamp"`
}

// webhook notifies an HTTP endpoint that the run reached an event
type webhook struct {
	spec   ActionSpec
	client *http.Client
}

func (a *webhook) run(hc *dispatch.Context, ev model.ExitEvent) error {
	body, err := json.Marshal(webhookPayload{
		Run:       hc.Label(),
		Event:     ev,
		Processor: hc.Descriptor.Processor().Name(),
		Timestamp: time.Now(),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal webhook payload: %w", err)
	}

	method := a.spec.Method
	if method == "" {
		method = http.MethodPost
	}

	ctx := hc.Ctx()
	if a.spec.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.spec.Timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, method, a.spec.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for key, value := range a.spec.Headers {
		req.Header.Add(key, value)
	}

	hc.Logger.Info("Executing HTTP request",
		zap.String("method", method),
		zap.String("url", a.spec.URL))

	resp, err := a.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("HTTP request failed with status %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
	}
	io.Copy(io.Discard, resp.Body)
	return nil
}
