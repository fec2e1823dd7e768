package fusion

import (
	"fmt"
	"time"
)

// Mode is how the topside unit obtains its own position.
type Mode int

const (
	// ModeDynamic: the topside position is tracked by its GPS receiver.
	ModeDynamic Mode = iota
	// ModeStatic: the operator entered a fixed topside position and the
	// surface GPS is disabled.
	ModeStatic
)

func (m Mode) String() string {
	switch m {
	case ModeDynamic:
		return "dynamic"
	case ModeStatic:
		return "static"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

func (m Mode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

func (m *Mode) UnmarshalText(b []byte) error {
	switch string(b) {
	case "dynamic":
		*m = ModeDynamic
	case "static":
		*m = ModeStatic
	default:
		return fmt.Errorf("unknown mode %q", b)
	}
	return nil
}

// FixQuality values are the MAVLink GPS_INPUT fix_type codes.
type FixQuality int

const (
	NoFix FixQuality = 0
	Fix2D FixQuality = 2
	Fix3D FixQuality = 3
)

func (q FixQuality) String() string {
	switch q {
	case NoFix:
		return "no_fix"
	case Fix2D:
		return "2d"
	case Fix3D:
		return "3d"
	default:
		return fmt.Sprintf("fix(%d)", int(q))
	}
}

// Valid reports whether q claims a usable position.
func (q FixQuality) Valid() bool {
	return q == Fix2D || q == Fix3D
}

// TopsideFix is the surface reference position, replaced wholesale each poll.
// In static mode Lat/Lon hold the operator-entered position.
type TopsideFix struct {
	Lat        float64    `json:"lat"`
	Lon        float64    `json:"lon"`
	HDOP       float64    `json:"hdop"`
	Fix        FixQuality `json:"fix"`
	Satellites int        `json:"satellites"`
	Mode       Mode       `json:"mode"`
	HeadingDeg float64    `json:"heading_deg"`
}

// AcousticFix is the locator position relative to the topside.
//
// North/East are the device-reported offset in meters; OffsetLat/OffsetLon
// are the same offset in degrees at the topside latitude.
type AcousticFix struct {
	North       float64   `json:"north_m"`
	East        float64   `json:"east_m"`
	OffsetLat   float64   `json:"offset_lat"`
	OffsetLon   float64   `json:"offset_lon"`
	AccuracyStd float64   `json:"accuracy_std_m"`
	Valid       bool      `json:"valid"`
	Time        time.Time `json:"time"`
}

// FusedPosition is the single output record of the bridge.
//
// VDOP carries the acoustic accuracy as well as HorizAccuracy: ground control
// surfaces the two fields differently and the operator must see at least one.
type FusedPosition struct {
	Lat           float64    `json:"lat"`
	Lon           float64    `json:"lon"`
	Fix           FixQuality `json:"fix"`
	HDOP          float64    `json:"hdop"`
	VDOP          float64    `json:"vdop"`
	HorizAccuracy float64    `json:"horiz_accuracy_m"`
	Satellites    int        `json:"satellites"`
	Mode          Mode       `json:"mode"`
	Time          time.Time  `json:"time"`
}

const (
	// SentinelHDOP is reported in static mode: non-zero so the autopilot sees
	// a fix, and below ArduPilot's GPS_HDOP_GOOD default of 1.4.
	SentinelHDOP = 1.0
	// SentinelSatellites is reported in static mode, above the autopilot's
	// minimum of 6 satellites for a trusted GPS.
	SentinelSatellites = 10

	unavailableDOP      = 65535.0
	unavailableAccuracy = 300.0
)

// Unavailable is what egress sends before the first successful fusion.
// 300 m is the acoustic system's maximum range.
func Unavailable() FusedPosition {
	return FusedPosition{
		Fix:           NoFix,
		HDOP:          unavailableDOP,
		VDOP:          unavailableDOP,
		HorizAccuracy: unavailableAccuracy,
	}
}
