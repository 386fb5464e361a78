// Package backend turns configured refresh endpoints into orchestrator
// phases.
package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/therealityreport/trr-app-sub006/internal/config"
	"github.com/therealityreport/trr-app-sub006/internal/logging"
	"github.com/therealityreport/trr-app-sub006/internal/refresh"
)

// Response is the JSON body a refresh endpoint answers with. Every field
// is optional.
type Response struct {
	Status   string         `json:"status,omitempty"`
	Message  string         `json:"message,omitempty"`
	Current  *int           `json:"current,omitempty"`
	Total    *int           `json:"total,omitempty"`
	Counters map[string]int `json:"counters,omitempty"`
	Error    string         `json:"error,omitempty"`
	Detail   string         `json:"detail,omitempty"`
}

// Backend status values with special meaning.
const (
	StatusSkipped = "skipped"
	StatusFailed  = "failed"
)

// Client calls the admin backend's refresh endpoints.
type Client struct {
	http   *resty.Client
	logger *zap.Logger
}

// New creates a Client for baseURL. timeout <= 0 leaves requests bounded
// only by their context.
func New(baseURL string, timeout time.Duration, logger *zap.Logger) *Client {
	if logger == nil {
		logger = logging.L()
	}
	hc := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetHeader("Accept", "application/json").
		SetHeader("Content-Type", "application/json")
	if timeout > 0 {
		hc.SetTimeout(timeout)
	}
	return &Client{http: hc, logger: logger}
}

// Call sends one request and decodes the response body. Non-2xx answers
// come back as errors carrying the backend's own explanation.
func (c *Client) Call(ctx context.Context, method, path string) (*Response, error) {
	if method == "" {
		method = http.MethodPost
	}

	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(map[string]any{}).
		Execute(strings.ToUpper(method), path)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("backend: %s %s: %w", method, path, ctxErr)
		}
		return nil, fmt.Errorf("backend: %s %s: %w", method, path, err)
	}

	var out Response
	if body := resp.Body(); len(body) > 0 {
		if jerr := json.Unmarshal(body, &out); jerr != nil && !resp.IsError() {
			return nil, fmt.Errorf("backend: %s %s: decode response: %w", method, path, jerr)
		}
	}

	c.logger.Debug("backend: response",
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", resp.StatusCode()),
		zap.String("backend_status", out.Status))

	if resp.IsError() {
		return &out, &StatusError{Code: resp.StatusCode(), Message: explain(out, resp.String())}
	}
	return &out, nil
}

// StatusError is a non-2xx backend answer.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("backend returned %d: %s", e.Code, e.Message)
}

func explain(r Response, raw string) string {
	switch {
	case r.Detail != "":
		return r.Detail
	case r.Error != "":
		return r.Error
	case r.Message != "":
		return r.Message
	}
	raw = strings.TrimSpace(raw)
	if len(raw) > 200 {
		raw = raw[:200] + "..."
	}
	if raw == "" {
		return "empty response"
	}
	return raw
}

// ExpandPath substitutes target into the {target} placeholder of tmpl.
func ExpandPath(tmpl, target string) string {
	return strings.ReplaceAll(tmpl, "{target}", url.PathEscape(target))
}

// Phase builds an orchestrator phase that calls def's endpoint for target.
func (c *Client) Phase(def config.Phase, target string) refresh.Phase {
	label := def.Label
	if label == "" {
		label = def.ID
	}
	path := ExpandPath(def.Path, target)

	return refresh.Phase{
		ID:      def.ID,
		Label:   label,
		Timeout: def.Timeout(),
		Work: func(ctx context.Context, report refresh.ReportFunc) (refresh.Outcome, error) {
			report(refresh.Note("Requesting " + label))

			resp, err := c.Call(ctx, def.Method, path)
			if err != nil {
				var se *StatusError
				if errors.As(err, &se) {
					return refresh.Outcome{}, fmt.Errorf("%s failed: %s", label, se.Error())
				}
				return refresh.Outcome{}, err
			}

			report(progressFrom(resp))

			switch strings.ToLower(resp.Status) {
			case StatusSkipped:
				msg := resp.Message
				if msg == "" {
					msg = label + " skipped"
				}
				return refresh.Skipped(msg), nil
			case StatusFailed, "error":
				return refresh.Outcome{}, fmt.Errorf("%s failed: %s", label, explain(*resp, ""))
			}
			return refresh.Outcome{}, nil
		},
	}
}

// Phases builds the phases of profile for target, in order.
func (c *Client) Phases(profile config.Profile, target string) []refresh.Phase {
	out := make([]refresh.Phase, len(profile.Phases))
	for i, def := range profile.Phases {
		out[i] = c.Phase(def, target)
	}
	return out
}

func progressFrom(r *Response) refresh.ProgressUpdate {
	u := refresh.ProgressUpdate{
		Current:  r.Current,
		Total:    r.Total,
		Counters: r.Counters,
	}
	if r.Message != "" {
		msg := r.Message
		u.Message = &msg
	}
	return u
}
