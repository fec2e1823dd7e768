// Package mavlink reads autopilot telemetry from, and writes messages to, a
// mavlink2rest proxy.
package mavlink

import (
	"context"
	"fmt"
	"math"
	"net/url"
	"sync/atomic"
	"time"

	"github.com/go-resty/resty/v2"

	"ugps-bridge/internal/transport"
)

const pathMavlink = "/mavlink"

// Config identifies this bridge on the MAVLink network and the vehicle whose
// telemetry it reads.
type Config struct {
	BaseURL string
	// SystemID and ComponentID are stamped on outgoing messages.
	SystemID    int
	ComponentID int
	// TargetSystem and TargetComponent select the autopilot.
	TargetSystem    int
	TargetComponent int
	Timeout         time.Duration
}

type Client struct {
	http *resty.Client
	cfg  Config
	seq  atomic.Uint32
	now  func() time.Time
}

func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("mavlink host is required")
	}
	u, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("mavlink host: %w", err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("mavlink host %q: expected http(s)://host[:port]", cfg.BaseURL)
	}
	for name, v := range map[string]int{
		"system_id":        cfg.SystemID,
		"component_id":     cfg.ComponentID,
		"target_system":    cfg.TargetSystem,
		"target_component": cfg.TargetComponent,
	} {
		if v < 1 || v > 255 {
			return nil, fmt.Errorf("mavlink %s must be within 1..255 (got %d)", name, v)
		}
	}
	return &Client{
		http: transport.NewHTTPClient(cfg.BaseURL, cfg.Timeout),
		cfg:  cfg,
		now:  time.Now,
	}, nil
}

type header struct {
	SystemID    int    `json:"system_id"`
	ComponentID int    `json:"component_id"`
	Sequence    uint32 `json:"sequence"`
}

type envelope struct {
	Header  header `json:"header"`
	Message any    `json:"message"`
}

// enum is how mavlink2rest encodes MAVLink enum values.
type enum struct {
	Type string `json:"type"`
}

type bitflags struct {
	Bits int `json:"bits"`
}

func (c *Client) post(ctx context.Context, msg any) error {
	env := envelope{
		Header: header{
			SystemID:    c.cfg.SystemID,
			ComponentID: c.cfg.ComponentID,
			Sequence:    (c.seq.Add(1) - 1) % 256,
		},
		Message: msg,
	}
	return transport.PostJSON(ctx, c.http, pathMavlink, env)
}

func (c *Client) messagePath(name string) string {
	return fmt.Sprintf("/mavlink/vehicles/%d/components/%d/messages/%s", c.cfg.TargetSystem, c.cfg.TargetComponent, name)
}

// getMessage fetches the latest copy of a telemetry message into out.
func (c *Client) getMessage(ctx context.Context, name string, out any) error {
	path := c.messagePath(name)
	wrapper := struct {
		Message any `json:"message"`
	}{Message: out}
	found, err := transport.GetJSON(ctx, c.http, path, &wrapper)
	if err != nil {
		return err
	}
	if !found {
		return transport.Errorf(transport.MalformedResponse, "GET "+path, "no %s received yet", name)
	}
	return nil
}

func finite(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) }
