// Package nmea renders a fused position as NMEA 0183 sentences for ground
// control software that accepts an external GPS over UDP.
package nmea

import (
	"fmt"
	"math"
	"strings"
	"time"

	gonmea "github.com/adrianmo/go-nmea"

	"ugps-bridge/internal/fusion"
)

const (
	talker = "GP"

	// Resolution of the minutes field in ddmm.mmmmm.
	minuteScale = 100000
)

// Sentences returns a GGA and an RMC sentence for p, each framed as
// "$...*HH\r\n" and meant to be sent as its own datagram.
func Sentences(p fusion.FusedPosition) [][]byte {
	return [][]byte{GGA(p), RMC(p)}
}

// GGA carries position, quality, satellites and hdop.
func GGA(p fusion.FusedPosition) []byte {
	lat, ns := formatLat(p.Lat)
	lon, ew := formatLon(p.Lon)
	quality := "0"
	if p.Fix.Valid() {
		quality = "1"
	}
	body := strings.Join([]string{
		talker + "GGA",
		formatTime(p.Time),
		lat, ns,
		lon, ew,
		quality,
		fmt.Sprintf("%02d", clampSats(p.Satellites)),
		fmt.Sprintf("%.1f", p.HDOP),
		"0.0", "M",
		"0.0", "M",
		"", "",
	}, ",")
	return frame(body)
}

// RMC carries position, validity and date.
func RMC(p fusion.FusedPosition) []byte {
	lat, ns := formatLat(p.Lat)
	lon, ew := formatLon(p.Lon)
	status, mode := "V", "N"
	if p.Fix.Valid() {
		status, mode = "A", "A"
	}
	body := strings.Join([]string{
		talker + "RMC",
		formatTime(p.Time),
		status,
		lat, ns,
		lon, ew,
		"0.0",
		"0.0",
		formatDate(p.Time),
		"", "",
		mode,
	}, ",")
	return frame(body)
}

func frame(body string) []byte {
	return []byte("$" + body + "*" + gonmea.Checksum(body) + "\r\n")
}

func formatLat(deg float64) (string, string) {
	hemi := "N"
	if deg < 0 {
		hemi = "S"
	}
	d, m, f := splitDegrees(deg)
	return fmt.Sprintf("%02d%02d.%05d", d, m, f), hemi
}

func formatLon(deg float64) (string, string) {
	hemi := "E"
	if deg < 0 {
		hemi = "W"
	}
	d, m, f := splitDegrees(deg)
	return fmt.Sprintf("%03d%02d.%05d", d, m, f), hemi
}

// splitDegrees rounds once on the whole value so minutes never render as 60.
func splitDegrees(deg float64) (d, m, frac int64) {
	total := int64(math.Round(math.Abs(deg) * 60 * minuteScale))
	d = total / (60 * minuteScale)
	rem := total % (60 * minuteScale)
	return d, rem / minuteScale, rem % minuteScale
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	t = t.UTC()
	return fmt.Sprintf("%02d%02d%02d.%02d", t.Hour(), t.Minute(), t.Second(), t.Nanosecond()/int(10*time.Millisecond))
}

func formatDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	t = t.UTC()
	return fmt.Sprintf("%02d%02d%02d", t.Day(), int(t.Month()), t.Year()%100)
}

func clampSats(n int) int {
	if n < 0 {
		return 0
	}
	if n > 99 {
		return 99
	}
	return n
}
