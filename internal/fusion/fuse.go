package fusion

// Fuse combines one topside snapshot with one acoustic snapshot.
//
// The mode decides which fields come from the surface receiver and which are
// substituted; an invalid acoustic fix always yields NoFix. Fuse reads no
// clock and keeps no state.
func Fuse(top TopsideFix, ac AcousticFix) FusedPosition {
	var out FusedPosition
	switch top.Mode {
	case ModeDynamic:
		out = fuseDynamic(top, ac)
	case ModeStatic:
		out = fuseStatic(top, ac)
	default:
		out = fuseDynamic(top, ac)
		out.Fix = NoFix
	}
	if !ac.Valid {
		out.Fix = NoFix
	}
	return out
}

func fuseDynamic(top TopsideFix, ac AcousticFix) FusedPosition {
	return FusedPosition{
		Lat:           top.Lat + ac.OffsetLat,
		Lon:           top.Lon + ac.OffsetLon,
		Fix:           top.Fix,
		HDOP:          top.HDOP,
		VDOP:          ac.AccuracyStd,
		HorizAccuracy: ac.AccuracyStd,
		Satellites:    top.Satellites,
		Mode:          ModeDynamic,
		Time:          ac.Time,
	}
}

// Static mode has no live receiver to report quality, so the GPS-shaped
// fields are fixed to values that keep autopilot GPS failsafes quiet.
func fuseStatic(top TopsideFix, ac AcousticFix) FusedPosition {
	return FusedPosition{
		Lat:           top.Lat + ac.OffsetLat,
		Lon:           top.Lon + ac.OffsetLon,
		Fix:           Fix3D,
		HDOP:          SentinelHDOP,
		VDOP:          ac.AccuracyStd,
		HorizAccuracy: ac.AccuracyStd,
		Satellites:    SentinelSatellites,
		Mode:          ModeStatic,
		Time:          ac.Time,
	}
}
