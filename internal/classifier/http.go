package classifier

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
)

const maxResponseBytes = 64 * 1024

// HTTP queries a remote /check-url style service:
//
//	GET <endpoint>?url=<normalized url>
//	200 {"url": "...", "is_malicious": true, "label": "malicious", "confidence": 0.97}
type HTTP struct {
	endpoint string
	client   *http.Client
}

// NewHTTP returns a remote classifier. A nil client uses http.DefaultClient.
func NewHTTP(endpoint string, client *http.Client) *HTTP {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTP{endpoint: endpoint, client: client}
}

type checkURLResponse struct {
	URL         string   `json:"url"`
	IsMalicious *bool    `json:"is_malicious"`
	Label       string   `json:"label"`
	Confidence  *float64 `json:"confidence"`
}

func (h *HTTP) Classify(ctx context.Context, target string) (Verdict, error) {
	u, err := url.Parse(h.endpoint)
	if err != nil || u.Host == "" {
		return Verdict{}, newError(CodeConfig, fmt.Sprintf("invalid classifier endpoint %q", h.endpoint), err)
	}
	q := u.Query()
	q.Set("url", target)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return Verdict{}, newError(CodeConfig, "build classifier request", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		if isTimeout(ctx, err) {
			return Verdict{}, newError(CodeTimeout, "classifier did not answer in time", err)
		}
		return Verdict{}, newError(CodeTransport, "classifier request failed", err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			slog.Debug("classifier response close failed", "error", closeErr)
		}
	}()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		if isTimeout(ctx, err) {
			return Verdict{}, newError(CodeTimeout, "classifier response timed out", err)
		}
		return Verdict{}, newError(CodeTransport, "read classifier response", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Verdict{}, newError(CodeStatus, fmt.Sprintf("classifier returned status=%d", resp.StatusCode), nil)
	}

	var payload checkURLResponse
	if err := json.Unmarshal(body, &payload); err != nil {
		return Verdict{}, newError(CodeMalformed, "decode classifier response", err)
	}
	if payload.IsMalicious == nil {
		return Verdict{}, newError(CodeMalformed, "classifier response missing is_malicious", nil)
	}

	return Verdict{
		Malicious:  *payload.IsMalicious,
		Label:      payload.Label,
		Confidence: payload.Confidence,
	}, nil
}

func isTimeout(ctx context.Context, err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return true
	}
	var urlErr *url.Error
	return errors.As(err, &urlErr) && urlErr.Timeout()
}
