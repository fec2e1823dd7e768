package mavlink

import (
	"context"
	"fmt"
)

// MAVLink message ids whose stream rate the bridge depends on.
const (
	msgIDVFRHUD          = 74
	msgIDScaledPressure2 = 137
	msgIDAHRS2           = 178
)

// gpsTypeMAVLink is the ArduPilot GPS_TYPE value for a GPS fed by GPS_INPUT.
const gpsTypeMAVLink = 14

type streamRate struct {
	name  string
	id    int
	rateH float64
}

var requiredStreams = []streamRate{
	{name: "VFR_HUD", id: msgIDVFRHUD, rateH: 5},
	{name: "AHRS2", id: msgIDAHRS2, rateH: 5},
	{name: "SCALED_PRESSURE2", id: msgIDScaledPressure2, rateH: 1},
}

type commandLong struct {
	Type            string  `json:"type"`
	TargetSystem    int     `json:"target_system"`
	TargetComponent int     `json:"target_component"`
	Command         enum    `json:"command"`
	Confirmation    int     `json:"confirmation"`
	Param1          float64 `json:"param1"`
	Param2          float64 `json:"param2"`
	Param3          float64 `json:"param3"`
	Param4          float64 `json:"param4"`
	Param5          float64 `json:"param5"`
	Param6          float64 `json:"param6"`
	Param7          float64 `json:"param7"`
}

type paramSet struct {
	Type            string   `json:"type"`
	TargetSystem    int      `json:"target_system"`
	TargetComponent int      `json:"target_component"`
	ParamID         []string `json:"param_id"`
	ParamValue      float64  `json:"param_value"`
	ParamType       enum     `json:"param_type"`
}

// Setup asks the autopilot for the telemetry streams ReadDepth needs and
// switches its GPS driver to MAVLink input. It stops at the first failure.
func (c *Client) Setup(ctx context.Context) error {
	for _, s := range requiredStreams {
		if err := c.SetMessageInterval(ctx, s.id, s.rateH); err != nil {
			return fmt.Errorf("set %s interval: %w", s.name, err)
		}
	}
	if err := c.SetParamUint8(ctx, "GPS_TYPE", gpsTypeMAVLink); err != nil {
		return fmt.Errorf("set GPS_TYPE: %w", err)
	}
	return nil
}

// SetMessageInterval requests msgID at rateHz via MAV_CMD_SET_MESSAGE_INTERVAL.
func (c *Client) SetMessageInterval(ctx context.Context, msgID int, rateHz float64) error {
	if rateHz <= 0 {
		return fmt.Errorf("rate must be positive (got %v)", rateHz)
	}
	return c.post(ctx, commandLong{
		Type:            "COMMAND_LONG",
		TargetSystem:    c.cfg.TargetSystem,
		TargetComponent: c.cfg.TargetComponent,
		Command:         enum{Type: "MAV_CMD_SET_MESSAGE_INTERVAL"},
		Param1:          float64(msgID),
		// microseconds between messages
		Param2: float64(int64(1e6 / rateHz)),
	})
}

// SetParamUint8 writes a MAV_PARAM_TYPE_UINT8 parameter.
func (c *Client) SetParamUint8(ctx context.Context, name string, value uint8) error {
	id, err := paramID(name)
	if err != nil {
		return err
	}
	return c.post(ctx, paramSet{
		Type:            "PARAM_SET",
		TargetSystem:    c.cfg.TargetSystem,
		TargetComponent: c.cfg.TargetComponent,
		ParamID:         id,
		ParamValue:      float64(value),
		ParamType:       enum{Type: "MAV_PARAM_TYPE_UINT8"},
	})
}

// paramID encodes name as the 16 single-character strings mavlink2rest
// expects for a char[16] field, NUL padded.
func paramID(name string) ([]string, error) {
	const size = 16
	if name == "" || len(name) > size {
		return nil, fmt.Errorf("param id %q must be 1..%d bytes", name, size)
	}
	out := make([]string, size)
	for i := range out {
		if i < len(name) {
			out[i] = string(name[i])
		} else {
			out[i] = "\x00"
		}
	}
	return out, nil
}
