// Package ugps talks to the HTTP API of an underwater GPS topside unit.
package ugps

import (
	"context"
	"fmt"
	"math"
	"net/url"
	"time"

	"github.com/go-resty/resty/v2"

	"ugps-bridge/internal/fusion"
	"ugps-bridge/internal/transport"
)

const (
	pathAbout       = "/api/v1/about/"
	pathConfig      = "/api/v1/config/generic"
	pathMaster      = "/api/v1/position/master"
	pathAcoustic    = "/api/v1/position/acoustic/filtered"
	pathDepth       = "/api/v1/external/depth"
	pathOrientation = "/api/v1/external/orientation"
)

// Options relax how the device's own quality flags gate the fused fix.
type Options struct {
	// IgnoreGPS treats the topside receiver as having a 3D fix with at
	// least minIgnoredSatellites satellites.
	IgnoreGPS bool
	// IgnoreAcoustic treats every acoustic reading as valid.
	IgnoreAcoustic bool
	// Timeout caps each HTTP request. Zero means transport.DefaultHTTPTimeout.
	Timeout time.Duration
}

type Client struct {
	http *resty.Client
	opts Options
	now  func() time.Time
}

// New validates baseURL and returns a client for it.
func New(baseURL string, opts Options) (*Client, error) {
	if err := validateBaseURL(baseURL); err != nil {
		return nil, fmt.Errorf("ugps host: %w", err)
	}
	return &Client{
		http: transport.NewHTTPClient(baseURL, opts.Timeout),
		opts: opts,
		now:  time.Now,
	}, nil
}

func validateBaseURL(raw string) error {
	if raw == "" {
		return fmt.Errorf("url is required")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%q: scheme must be http or https", raw)
	}
	if u.Host == "" {
		return fmt.Errorf("%q: host is required", raw)
	}
	return nil
}

// About is the subset of the device identity that gets logged at startup.
type About struct {
	Version     string `json:"version"`
	ChipID      string `json:"chipid"`
	ProductName string `json:"product_name"`
}

func (c *Client) About(ctx context.Context) (About, error) {
	var raw map[string]any
	found, err := transport.GetJSON(ctx, c.http, pathAbout, &raw)
	if err != nil {
		return About{}, err
	}
	if !found {
		return About{}, transport.Errorf(transport.MalformedResponse, "GET "+pathAbout, "empty body")
	}
	str := func(k string) string {
		if v, ok := raw[k]; ok && v != nil {
			return fmt.Sprint(v)
		}
		return ""
	}
	return About{Version: str("version"), ChipID: str("chipid"), ProductName: str("product_name")}, nil
}

// Poll reads the device configuration, the topside position and the
// filtered acoustic position, in that order, without retrying.
//
// A missing acoustic position is not an error: it yields an AcousticFix with
// Valid false.
func (c *Client) Poll(ctx context.Context) (fusion.TopsideFix, fusion.AcousticFix, error) {
	mode, err := c.Mode(ctx)
	if err != nil {
		return fusion.TopsideFix{}, fusion.AcousticFix{}, err
	}
	top, err := c.Topside(ctx, mode)
	if err != nil {
		return fusion.TopsideFix{}, fusion.AcousticFix{}, err
	}
	ac, err := c.Acoustic(ctx, top)
	if err != nil {
		return fusion.TopsideFix{}, fusion.AcousticFix{}, err
	}
	return top, ac, nil
}

type genericConfig struct {
	GPS     *string `json:"gps"`
	Compass *string `json:"compass"`
}

// Mode reports whether the operator fixed the topside position.
func (c *Client) Mode(ctx context.Context) (fusion.Mode, error) {
	var cfg genericConfig
	found, err := transport.GetJSON(ctx, c.http, pathConfig, &cfg)
	if err != nil {
		return 0, err
	}
	if !found || cfg.GPS == nil {
		return 0, transport.Errorf(transport.MalformedResponse, "GET "+pathConfig, "missing gps setting")
	}
	if *cfg.GPS == "static" {
		return fusion.ModeStatic, nil
	}
	return fusion.ModeDynamic, nil
}

type masterPosition struct {
	Lat         *float64 `json:"lat"`
	Lon         *float64 `json:"lon"`
	Orientation *float64 `json:"orientation"`
	HDOP        float64  `json:"hdop"`
	NumSats     int      `json:"numsats"`
}

const (
	// hdop at or above this is treated as no fix.
	maxUsableHDOP = 20.0
	// Minimum satellites for a 3D fix.
	min3DSatellites = 4
	// Satellites reported when IgnoreGPS is set and the receiver sees fewer.
	minIgnoredSatellites = 6
)

// Topside reads the topside unit's own position.
func (c *Client) Topside(ctx context.Context, mode fusion.Mode) (fusion.TopsideFix, error) {
	var m masterPosition
	found, err := transport.GetJSON(ctx, c.http, pathMaster, &m)
	if err != nil {
		return fusion.TopsideFix{}, err
	}
	if !found {
		return fusion.TopsideFix{}, transport.Errorf(transport.MalformedResponse, "GET "+pathMaster, "no topside position")
	}
	if m.Lat == nil || m.Lon == nil || m.Orientation == nil {
		return fusion.TopsideFix{}, transport.Errorf(transport.MalformedResponse, "GET "+pathMaster, "lat, lon and orientation are required")
	}

	top := fusion.TopsideFix{
		Lat:        *m.Lat,
		Lon:        *m.Lon,
		HDOP:       m.HDOP,
		Satellites: m.NumSats,
		Mode:       mode,
		HeadingDeg: *m.Orientation,
		Fix:        topsideQuality(m),
	}
	if c.opts.IgnoreGPS {
		top.Fix = fusion.Fix3D
		top.Satellites = max(top.Satellites, minIgnoredSatellites)
	}
	return top, nil
}

// topsideQuality ignores fix_quality: the device reports 0 there whenever
// the position is static or comes from an external GPS.
func topsideQuality(m masterPosition) fusion.FixQuality {
	if m.HDOP >= maxUsableHDOP {
		return fusion.NoFix
	}
	if m.NumSats >= min3DSatellites {
		return fusion.Fix3D
	}
	return fusion.Fix2D
}

type acousticPosition struct {
	X             float64 `json:"x"`
	Y             float64 `json:"y"`
	Z             float64 `json:"z"`
	Std           float64 `json:"std"`
	PositionValid bool    `json:"position_valid"`
}

// earthRadiusM is the WGS84 equatorial radius.
const earthRadiusM = 6378137.0

// Acoustic reads the filtered locator position relative to the topside and
// converts it to north/east meters and degree offsets at top's latitude.
//
// x points along the topside heading and y to its starboard side. A topside
// heading below zero means the device has none, so the offset cannot be
// placed and the fix is invalid unless IgnoreAcoustic is set.
func (c *Client) Acoustic(ctx context.Context, top fusion.TopsideFix) (fusion.AcousticFix, error) {
	var a acousticPosition
	found, err := transport.GetJSON(ctx, c.http, pathAcoustic, &a)
	if err != nil {
		return fusion.AcousticFix{}, err
	}
	now := c.now()
	if !found {
		return fusion.AcousticFix{Valid: c.opts.IgnoreAcoustic, Time: now}, nil
	}

	fix := fusion.AcousticFix{
		AccuracyStd: a.Std,
		Valid:       a.PositionValid || c.opts.IgnoreAcoustic,
		Time:        now,
	}
	if top.HeadingDeg < 0 {
		fix.Valid = c.opts.IgnoreAcoustic
		return fix, nil
	}
	fix.North, fix.East = rotate(a.X, a.Y, top.HeadingDeg)
	fix.OffsetLat, fix.OffsetLon = offsetDegrees(fix.North, fix.East, top.Lat)
	return fix, nil
}

func rotate(forward, starboard, headingDeg float64) (north, east float64) {
	h := headingDeg * math.Pi / 180
	sin, cos := math.Sincos(h)
	return forward*cos - starboard*sin, forward*sin + starboard*cos
}

func offsetDegrees(north, east, latDeg float64) (dLat, dLon float64) {
	dLat = north / earthRadiusM * 180 / math.Pi
	cosLat := math.Cos(latDeg * math.Pi / 180)
	if math.Abs(cosLat) < 1e-12 {
		return dLat, 0
	}
	dLon = east / (earthRadiusM * cosLat) * 180 / math.Pi
	return dLat, dLon
}

type depthBody struct {
	Depth float64 `json:"depth"`
	Temp  float64 `json:"temp"`
}

// PublishDepth sends the locator depth (meters, positive down) and water
// temperature (°C).
func (c *Client) PublishDepth(ctx context.Context, depthM, tempC float64) error {
	return transport.PutJSON(ctx, c.http, pathDepth, depthBody{Depth: depthM, Temp: tempC})
}

type orientationBody struct {
	Orientation int `json:"orientation"`
}

// PublishOrientation sends the locator heading, normalized to [0, 360).
func (c *Client) PublishOrientation(ctx context.Context, headingDeg float64) error {
	deg := int(math.Round(headingDeg)) % 360
	if deg < 0 {
		deg += 360
	}
	return transport.PutJSON(ctx, c.http, pathOrientation, orientationBody{Orientation: deg})
}
