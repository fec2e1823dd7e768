package nmea

import (
	"fmt"
	"math"
	"strings"
	"testing"
	"time"

	gonmea "github.com/adrianmo/go-nmea"
	"github.com/stretchr/testify/require"

	"ugps-bridge/internal/fusion"
)

// Half of the last minutes digit, in degrees.
const latLonTolerance = 0.5 / 60 / minuteScale * 1.0001

func samplePosition() fusion.FusedPosition {
	return fusion.FusedPosition{
		Lat:           63.4395512,
		Lon:           10.3983312,
		Fix:           fusion.Fix3D,
		HDOP:          1.2,
		VDOP:          1.5,
		HorizAccuracy: 1.5,
		Satellites:    8,
		Mode:          fusion.ModeDynamic,
		Time:          time.Date(2025, 3, 7, 9, 4, 5, 250_000_000, time.UTC),
	}
}

func xorChecksum(body string) byte {
	var c byte
	for i := 0; i < len(body); i++ {
		c ^= body[i]
	}
	return c
}

func requireFramed(t *testing.T, raw []byte) string {
	t.Helper()
	s := string(raw)
	require.True(t, strings.HasPrefix(s, "$"), s)
	require.True(t, strings.HasSuffix(s, "\r\n"), s)
	star := strings.LastIndexByte(s, '*')
	require.NotEqual(t, -1, star)
	body := s[1:star]
	require.Equal(t, fmt.Sprintf("%02X", xorChecksum(body)), s[star+1:len(s)-2])
	return body
}

func TestSentences_ReturnsGGAAndRMC(t *testing.T) {
	out := Sentences(samplePosition())
	require.Len(t, out, 2)
	require.True(t, strings.HasPrefix(string(out[0]), "$GPGGA,"))
	require.True(t, strings.HasPrefix(string(out[1]), "$GPRMC,"))
}

func TestGGA_RoundTripThroughParser(t *testing.T) {
	p := samplePosition()
	raw := GGA(p)
	requireFramed(t, raw)

	s, err := gonmea.Parse(strings.TrimSpace(string(raw)))
	require.NoError(t, err)
	gga, ok := s.(gonmea.GGA)
	require.True(t, ok, "got %T", s)

	require.InDelta(t, p.Lat, gga.Latitude, latLonTolerance)
	require.InDelta(t, p.Lon, gga.Longitude, latLonTolerance)
	require.Equal(t, gonmea.GPS, gga.FixQuality)
	require.EqualValues(t, 8, gga.NumSatellites)
	require.InDelta(t, 1.2, gga.HDOP, 1e-9)
	require.Equal(t, 9, gga.Time.Hour)
	require.Equal(t, 4, gga.Time.Minute)
	require.Equal(t, 5, gga.Time.Second)
}

func TestRMC_RoundTripThroughParser(t *testing.T) {
	p := samplePosition()
	p.Lat, p.Lon = -33.8567844, -151.2152967
	raw := RMC(p)
	requireFramed(t, raw)

	s, err := gonmea.Parse(strings.TrimSpace(string(raw)))
	require.NoError(t, err)
	rmc, ok := s.(gonmea.RMC)
	require.True(t, ok, "got %T", s)

	require.Equal(t, gonmea.ValidRMC, rmc.Validity)
	require.InDelta(t, p.Lat, rmc.Latitude, latLonTolerance)
	require.InDelta(t, p.Lon, rmc.Longitude, latLonTolerance)
	require.Equal(t, 7, rmc.Date.DD)
	require.Equal(t, 3, rmc.Date.MM)
	require.Equal(t, 25, rmc.Date.YY)
}

func TestNoFixIsMarkedInvalid(t *testing.T) {
	p := samplePosition()
	p.Fix = fusion.NoFix

	gga, err := gonmea.Parse(strings.TrimSpace(string(GGA(p))))
	require.NoError(t, err)
	require.Equal(t, gonmea.Invalid, gga.(gonmea.GGA).FixQuality)

	rmc, err := gonmea.Parse(strings.TrimSpace(string(RMC(p))))
	require.NoError(t, err)
	require.Equal(t, gonmea.InvalidRMC, rmc.(gonmea.RMC).Validity)
}

func TestFormatLatLon_NoSixtyMinuteCarry(t *testing.T) {
	// 59.9999999' rounds up to the next whole degree.
	lat, ns := formatLat(10 + 59.9999999/60)
	require.Equal(t, "1100.00000", lat)
	require.Equal(t, "N", ns)

	lon, ew := formatLon(-(7 + 59.9999999/60))
	require.Equal(t, "00800.00000", lon)
	require.Equal(t, "W", ew)
}

func TestFormatLatLon_Layout(t *testing.T) {
	lat, _ := formatLat(5.5)
	require.Equal(t, "0530.00000", lat)
	lon, _ := formatLon(120.25)
	require.Equal(t, "12015.00000", lon)
}

func TestChecksumMatchesLibrary(t *testing.T) {
	for _, raw := range Sentences(fusion.Unavailable()) {
		body := requireFramed(t, raw)
		require.Equal(t, gonmea.Checksum(body), fmt.Sprintf("%02X", xorChecksum(body)))
	}
}

func TestLatLonPrecisionAcrossGrid(t *testing.T) {
	for lat := -89.9; lat < 90; lat += 7.31 {
		for lon := -179.9; lon < 180; lon += 13.17 {
			p := samplePosition()
			p.Lat, p.Lon = lat, lon
			s, err := gonmea.Parse(strings.TrimSpace(string(GGA(p))))
			require.NoError(t, err)
			gga := s.(gonmea.GGA)
			if math.Abs(gga.Latitude-lat) > latLonTolerance || math.Abs(gga.Longitude-lon) > latLonTolerance {
				t.Fatalf("lat/lon %v/%v parsed as %v/%v", lat, lon, gga.Latitude, gga.Longitude)
			}
		}
	}
}
