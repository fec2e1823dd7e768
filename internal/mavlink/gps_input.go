package mavlink

import (
	"context"
	"math"

	"ugps-bridge/internal/fusion"
)

// GPS_INPUT_IGNORE_FLAG bits for fields the bridge cannot provide.
const (
	ignoreAlt              = 1
	ignoreVelHoriz         = 8
	ignoreVelVert          = 16
	ignoreSpeedAccuracy    = 32
	ignoreVerticalAccuracy = 128
	gpsInputIgnoreFlags    = ignoreAlt | ignoreVelHoriz | ignoreVelVert | ignoreSpeedAccuracy | ignoreVerticalAccuracy
	degE7                  = 1e7
)

type gpsInput struct {
	Type              string   `json:"type"`
	TimeUsec          int64    `json:"time_usec"`
	GPSID             int      `json:"gps_id"`
	IgnoreFlags       bitflags `json:"ignore_flags"`
	TimeWeekMs        int      `json:"time_week_ms"`
	TimeWeek          int      `json:"time_week"`
	FixType           int      `json:"fix_type"`
	Lat               int32    `json:"lat"`
	Lon               int32    `json:"lon"`
	Alt               float64  `json:"alt"`
	HDOP              float64  `json:"hdop"`
	VDOP              float64  `json:"vdop"`
	VN                float64  `json:"vn"`
	VE                float64  `json:"ve"`
	VD                float64  `json:"vd"`
	SpeedAccuracy     float64  `json:"speed_accuracy"`
	HorizAccuracy     float64  `json:"horiz_accuracy"`
	VertAccuracy      float64  `json:"vert_accuracy"`
	SatellitesVisible int      `json:"satellites_visible"`
	// Yaw stays 0 (not available). The only heading the device could
	// return is the vehicle's own, which the autopilot already has.
	Yaw int `json:"yaw"`
}

func newGPSInput(p fusion.FusedPosition, timeUsec int64) gpsInput {
	return gpsInput{
		Type:              "GPS_INPUT",
		TimeUsec:          timeUsec,
		IgnoreFlags:       bitflags{Bits: gpsInputIgnoreFlags},
		FixType:           int(p.Fix),
		Lat:               toDegE7(p.Lat),
		Lon:               toDegE7(p.Lon),
		HDOP:              p.HDOP,
		VDOP:              p.VDOP,
		HorizAccuracy:     p.HorizAccuracy,
		SatellitesVisible: min(max(p.Satellites, 0), 255),
	}
}

func toDegE7(deg float64) int32 {
	return int32(math.Round(deg * degE7))
}

// SendGPSInput posts p as a GPS_INPUT message. The timestamp is the
// acoustic measurement time, or now if p has none.
func (c *Client) SendGPSInput(ctx context.Context, p fusion.FusedPosition) error {
	t := p.Time
	if t.IsZero() {
		t = c.now()
	}
	return c.post(ctx, newGPSInput(p, t.UnixMicro()))
}
