package mavlink

import (
	"context"
	"time"

	"ugps-bridge/internal/transport"
)

// DepthSample is one depth reading on its way from the autopilot to the
// positioning device. It is never buffered.
type DepthSample struct {
	// DepthM is meters below the surface, positive down.
	DepthM       float64
	TemperatureC float64
	HeadingDeg   float64
	Time         time.Time
}

type vfrHUD struct {
	Alt     *float64 `json:"alt"`
	Heading *float64 `json:"heading"`
}

type scaledPressure struct {
	// centi-degrees Celsius
	Temperature *float64 `json:"temperature"`
}

// ReadDepth reads depth and heading from VFR_HUD and water temperature from
// SCALED_PRESSURE2.
func (c *Client) ReadDepth(ctx context.Context) (DepthSample, error) {
	var hud vfrHUD
	if err := c.getMessage(ctx, "VFR_HUD", &hud); err != nil {
		return DepthSample{}, err
	}
	if hud.Alt == nil || hud.Heading == nil || !finite(*hud.Alt) || !finite(*hud.Heading) {
		return DepthSample{}, transport.Errorf(transport.MalformedResponse, "GET "+c.messagePath("VFR_HUD"), "alt and heading are required")
	}

	var sp scaledPressure
	if err := c.getMessage(ctx, "SCALED_PRESSURE2", &sp); err != nil {
		return DepthSample{}, err
	}
	if sp.Temperature == nil || !finite(*sp.Temperature) {
		return DepthSample{}, transport.Errorf(transport.MalformedResponse, "GET "+c.messagePath("SCALED_PRESSURE2"), "temperature is required")
	}

	return DepthSample{
		DepthM:       -*hud.Alt,
		TemperatureC: *sp.Temperature / 100.0,
		HeadingDeg:   *hud.Heading,
		Time:         c.now(),
	}, nil
}
