package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

// DefaultHTTPTimeout caps any single request, independent of the caller's context.
const DefaultHTTPTimeout = 2 * time.Second

// NewHTTPClient returns a resty client for one device. Retries are disabled:
// retry policy belongs to the scheduler.
func NewHTTPClient(baseURL string, timeout time.Duration) *resty.Client {
	if timeout <= 0 {
		timeout = DefaultHTTPTimeout
	}
	return resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetTimeout(timeout).
		SetRetryCount(0).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")
}

// GetJSON fetches path and decodes the JSON body into out.
//
// Some devices answer "None" (or JSON null) when they have nothing to report.
// In that case found is false, err is nil and out is untouched.
func GetJSON(ctx context.Context, c *resty.Client, path string, out any) (found bool, err error) {
	endpoint := "GET " + path
	resp, err := c.R().SetContext(ctx).Get(path)
	if err != nil {
		return false, newPollError(Unreachable, endpoint, err)
	}
	if resp.StatusCode() != 200 {
		return false, Errorf(MalformedResponse, endpoint, "http status %s", resp.Status())
	}

	body := bytes.TrimSpace(resp.Body())
	if len(body) == 0 || string(body) == "None" || string(body) == "null" {
		return false, nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return false, newPollError(MalformedResponse, endpoint, fmt.Errorf("decode: %w", err))
	}
	return true, nil
}

// PutJSON sends body as JSON with PUT.
func PutJSON(ctx context.Context, c *resty.Client, path string, body any) error {
	return send(ctx, c, "PUT", path, body)
}

// PostJSON sends body as JSON with POST.
func PostJSON(ctx context.Context, c *resty.Client, path string, body any) error {
	return send(ctx, c, "POST", path, body)
}

func send(ctx context.Context, c *resty.Client, method string, path string, body any) error {
	endpoint := method + " " + path
	resp, err := c.R().SetContext(ctx).SetBody(body).Execute(method, path)
	if err != nil {
		return newPollError(TransportWriteFailure, endpoint, err)
	}
	if !resp.IsSuccess() {
		return Errorf(TransportWriteFailure, endpoint, "http status %s: %s", resp.Status(), strings.TrimSpace(resp.String()))
	}
	return nil
}
