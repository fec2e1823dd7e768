package ugps

import (
	"context"
	"encoding/json"
	"io"
	"math"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"ugps-bridge/internal/fusion"
	"ugps-bridge/internal/transport"
)

type fakeDevice struct {
	mu       sync.Mutex
	bodies   map[string]string
	status   map[string]int
	received map[string][]string
}

func newFakeDevice() *fakeDevice {
	return &fakeDevice{
		bodies: map[string]string{
			pathConfig:   `{"gps":"ubx","compass":"static"}`,
			pathMaster:   `{"lat":10.0,"lon":20.0,"hdop":1.2,"numsats":8,"fix_quality":1,"orientation":0,"cog":0,"sog":0}`,
			pathAcoustic: `{"x":10.0,"y":0.0,"z":5.0,"std":1.5,"position_valid":true}`,
			pathAbout:    `{"version":"3.1.0","chipid":"0xdeadbeef"}`,
		},
		status:   map[string]int{},
		received: map[string][]string{},
	}
}

func (d *fakeDevice) set(path, body string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.bodies[path] = body
}

func (d *fakeDevice) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if code, ok := d.status[r.URL.Path]; ok {
		w.WriteHeader(code)
		return
	}
	if r.Method == http.MethodPut {
		b, _ := io.ReadAll(r.Body)
		d.received[r.URL.Path] = append(d.received[r.URL.Path], string(b))
		return
	}
	body, ok := d.bodies[r.URL.Path]
	if !ok {
		http.NotFound(w, r)
		return
	}
	_, _ = io.WriteString(w, body)
}

func newTestClient(t *testing.T, opts Options) (*Client, *fakeDevice) {
	t.Helper()
	dev := newFakeDevice()
	ts := httptest.NewServer(dev)
	t.Cleanup(ts.Close)
	c, err := New(ts.URL, opts)
	require.NoError(t, err)
	c.now = func() time.Time { return time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC) }
	return c, dev
}

func TestNew_ValidatesURL(t *testing.T) {
	for _, raw := range []string{"", "blueos.local", "ftp://x", "http://"} {
		_, err := New(raw, Options{})
		require.Error(t, err, raw)
	}
	_, err := New("https://demo.waterlinked.com", Options{})
	require.NoError(t, err)
}

func TestPoll_Dynamic(t *testing.T) {
	c, _ := newTestClient(t, Options{})

	top, ac, err := c.Poll(context.Background())
	require.NoError(t, err)

	require.Equal(t, fusion.ModeDynamic, top.Mode)
	require.Equal(t, fusion.Fix3D, top.Fix)
	require.Equal(t, 8, top.Satellites)
	require.InDelta(t, 1.2, top.HDOP, 1e-9)

	require.True(t, ac.Valid)
	require.InDelta(t, 1.5, ac.AccuracyStd, 1e-9)
	// Heading 0: forward is north.
	require.InDelta(t, 10.0, ac.North, 1e-9)
	require.InDelta(t, 0.0, ac.East, 1e-9)
	require.InDelta(t, 10.0/earthRadiusM*180/math.Pi, ac.OffsetLat, 1e-12)
	require.InDelta(t, 0.0, ac.OffsetLon, 1e-12)
}

func TestPoll_StaticModeIsReadEveryPoll(t *testing.T) {
	c, dev := newTestClient(t, Options{})

	dev.set(pathConfig, `{"gps":"static","compass":"static"}`)
	top, _, err := c.Poll(context.Background())
	require.NoError(t, err)
	require.Equal(t, fusion.ModeStatic, top.Mode)

	dev.set(pathConfig, `{"gps":"ubx","compass":"static"}`)
	top, _, err = c.Poll(context.Background())
	require.NoError(t, err)
	require.Equal(t, fusion.ModeDynamic, top.Mode)
}

func TestPoll_AcousticNoneIsInvalidNotError(t *testing.T) {
	c, dev := newTestClient(t, Options{})
	dev.set(pathAcoustic, "None")

	_, ac, err := c.Poll(context.Background())
	require.NoError(t, err)
	require.False(t, ac.Valid)
}

func TestPoll_AcousticPositionInvalid(t *testing.T) {
	c, dev := newTestClient(t, Options{})
	dev.set(pathAcoustic, `{"x":1,"y":1,"z":1,"std":4.0,"position_valid":false}`)

	_, ac, err := c.Poll(context.Background())
	require.NoError(t, err)
	require.False(t, ac.Valid)

	c.opts.IgnoreAcoustic = true
	_, ac, err = c.Poll(context.Background())
	require.NoError(t, err)
	require.True(t, ac.Valid)
}

func TestPoll_MasterMissingFieldsIsMalformed(t *testing.T) {
	for _, body := range []string{
		"None",
		`{"lat":10.0,"lon":20.0,"hdop":1.0,"numsats":8}`,
		`{"lon":20.0,"orientation":0}`,
		`{"lat":`,
	} {
		c, dev := newTestClient(t, Options{})
		dev.set(pathMaster, body)
		_, _, err := c.Poll(context.Background())
		require.Error(t, err, body)
		require.True(t, transport.IsKind(err, transport.MalformedResponse), "body=%s err=%v", body, err)
	}
}

func TestPoll_ConfigWithoutGPSIsMalformed(t *testing.T) {
	c, dev := newTestClient(t, Options{})
	dev.set(pathConfig, `{"compass":"static"}`)
	_, _, err := c.Poll(context.Background())
	require.True(t, transport.IsKind(err, transport.MalformedResponse), "err=%v", err)
}

func TestPoll_UnreachableDevice(t *testing.T) {
	ts := httptest.NewServer(http.NotFoundHandler())
	url := ts.URL
	ts.Close()

	c, err := New(url, Options{Timeout: 200 * time.Millisecond})
	require.NoError(t, err)
	_, _, err = c.Poll(context.Background())
	require.True(t, transport.IsKind(err, transport.Unreachable), "err=%v", err)
}

func TestTopsideQuality(t *testing.T) {
	cases := []struct {
		name string
		m    masterPosition
		want fusion.FixQuality
	}{
		{"good", masterPosition{HDOP: 0.9, NumSats: 9}, fusion.Fix3D},
		{"few sats", masterPosition{HDOP: 0.9, NumSats: 3}, fusion.Fix2D},
		{"hdop too high", masterPosition{HDOP: 20, NumSats: 9}, fusion.NoFix},
		{"hdop just usable", masterPosition{HDOP: 19.9, NumSats: 5}, fusion.Fix3D},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, topsideQuality(tc.m))
		})
	}
}

func TestPoll_ExternalGPSWithoutFixQuality(t *testing.T) {
	c, dev := newTestClient(t, Options{})
	dev.set(pathConfig, `{"gps":"external"}`)
	dev.set(pathMaster, `{"lat":10.0,"lon":20.0,"hdop":1.0,"numsats":8,"fix_quality":0,"orientation":0}`)

	top, ac, err := c.Poll(context.Background())
	require.NoError(t, err)
	require.Equal(t, fusion.ModeDynamic, top.Mode)
	require.Equal(t, fusion.Fix3D, top.Fix)
	require.Equal(t, fusion.Fix3D, fusion.Fuse(top, ac).Fix)
}

func TestTopside_IgnoreGPS(t *testing.T) {
	c, dev := newTestClient(t, Options{IgnoreGPS: true})
	dev.set(pathMaster, `{"lat":1,"lon":2,"hdop":99,"numsats":2,"fix_quality":0,"orientation":90}`)

	top, err := c.Topside(context.Background(), fusion.ModeDynamic)
	require.NoError(t, err)
	require.Equal(t, fusion.Fix3D, top.Fix)
	require.Equal(t, minIgnoredSatellites, top.Satellites)
	require.InDelta(t, 90.0, top.HeadingDeg, 1e-9)
}

func TestAcoustic_RotatesByHeading(t *testing.T) {
	c, dev := newTestClient(t, Options{})
	dev.set(pathAcoustic, `{"x":10,"y":5,"z":2,"std":1.0,"position_valid":true}`)

	// Heading east: forward is east, starboard is south.
	ac, err := c.Acoustic(context.Background(), fusion.TopsideFix{Lat: 60, HeadingDeg: 90})
	require.NoError(t, err)
	require.InDelta(t, -5.0, ac.North, 1e-9)
	require.InDelta(t, 10.0, ac.East, 1e-9)

	wantLon := 10.0 / (earthRadiusM * math.Cos(60*math.Pi/180)) * 180 / math.Pi
	require.InDelta(t, wantLon, ac.OffsetLon, 1e-12)
	require.Less(t, ac.OffsetLat, 0.0)
}

func TestAcoustic_NoHeadingIsInvalid(t *testing.T) {
	c, _ := newTestClient(t, Options{})
	ac, err := c.Acoustic(context.Background(), fusion.TopsideFix{Lat: 10, HeadingDeg: -1})
	require.NoError(t, err)
	require.False(t, ac.Valid)
	require.Zero(t, ac.OffsetLat)
	require.Zero(t, ac.OffsetLon)
}

func TestAcoustic_NoHeadingIgnoreAcousticStaysValid(t *testing.T) {
	c, dev := newTestClient(t, Options{IgnoreAcoustic: true})
	dev.set(pathMaster, `{"lat":10.0,"lon":20.0,"hdop":1.0,"numsats":8,"fix_quality":1,"orientation":-1}`)

	top, ac, err := c.Poll(context.Background())
	require.NoError(t, err)
	require.True(t, ac.Valid)
	require.Zero(t, ac.North)
	require.Zero(t, ac.East)

	fused := fusion.Fuse(top, ac)
	require.Equal(t, fusion.Fix3D, fused.Fix)
	require.InDelta(t, 10.0, fused.Lat, 1e-12)
}

func TestPublishDepthAndOrientation(t *testing.T) {
	c, dev := newTestClient(t, Options{})
	ctx := context.Background()

	require.NoError(t, c.PublishDepth(ctx, 12.5, 8.25))
	require.NoError(t, c.PublishOrientation(ctx, 361.2))
	require.NoError(t, c.PublishOrientation(ctx, -90))

	dev.mu.Lock()
	defer dev.mu.Unlock()

	require.Len(t, dev.received[pathDepth], 1)
	var d map[string]float64
	require.NoError(t, json.Unmarshal([]byte(dev.received[pathDepth][0]), &d))
	require.Equal(t, map[string]float64{"depth": 12.5, "temp": 8.25}, d)

	require.Len(t, dev.received[pathOrientation], 2)
	for i, want := range []int{1, 270} {
		var o map[string]int
		require.NoError(t, json.Unmarshal([]byte(dev.received[pathOrientation][i]), &o))
		require.Equal(t, want, o["orientation"])
	}
}

func TestPublishDepth_RejectedIsWriteFailure(t *testing.T) {
	c, dev := newTestClient(t, Options{})
	dev.mu.Lock()
	dev.status[pathDepth] = http.StatusServiceUnavailable
	dev.mu.Unlock()

	err := c.PublishDepth(context.Background(), 1, 1)
	require.True(t, transport.IsKind(err, transport.TransportWriteFailure), "err=%v", err)
}

func TestAbout(t *testing.T) {
	c, _ := newTestClient(t, Options{})
	a, err := c.About(context.Background())
	require.NoError(t, err)
	require.Equal(t, "3.1.0", a.Version)
	require.Equal(t, "0xdeadbeef", a.ChipID)
}
