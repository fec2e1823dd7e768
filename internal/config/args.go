package config

import (
	"flag"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"
)

// LookupFunc matches os.LookupEnv.
type LookupFunc func(key string) (string, bool)

// FromArgs builds the process configuration. Sources apply in order:
// defaults, the YAML file named by -config, environment, then flags.
// EXTRA_ARGS is split on whitespace and appended to args first.
func FromArgs(args []string, lookup LookupFunc, usage io.Writer) (Config, error) {
	if lookup == nil {
		lookup = func(string) (string, bool) { return "", false }
	}
	if extra, ok := lookup("EXTRA_ARGS"); ok {
		args = append(append([]string(nil), args...), strings.Fields(extra)...)
	}

	fs := flag.NewFlagSet("ugps-bridge", flag.ContinueOnError)
	if usage != nil {
		fs.SetOutput(usage)
	}
	var (
		configPath     = fs.String("config", "", "Path to YAML config")
		ugpsHost       = fs.String("ugps-host", "", "UGPS topside base URL, e.g. http://192.168.2.94")
		mavlinkHost    = fs.String("mavlink-host", "", "mavlink2rest base URL, e.g. http://blueos.local:6040")
		qgcIP          = fs.String("qgc-ip", "", "Ground control IP for NMEA over UDP; empty disables")
		updatePeriod   = fs.String("update-period", "", "Fusion, autopilot and depth period in seconds (e.g. 0.25) or as a duration")
		ignoreGPS      = fs.Bool("ignore-gps", false, "Do not let the topside GPS fix gate the fused fix")
		ignoreAcoustic = fs.Bool("ignore-acoustic", false, "Treat every acoustic position as valid")
		logLevel       = fs.String("log-level", "", "debug, info, warn or error")
		logFile        = fs.Bool("logfile", false, "Also write logs to log_<time>.txt")
		webListen      = fs.String("web-listen", "", "Status API listen address, e.g. :8080")
		mqttBroker     = fs.String("mqtt-broker", "", "MQTT broker URL, e.g. tcp://localhost:1883")
	)
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	if fs.NArg() > 0 {
		return Config{}, fmt.Errorf("unexpected arguments: %s", strings.Join(fs.Args(), " "))
	}

	cfg, err := loadFile(*configPath)
	if err != nil {
		return Config{}, err
	}
	if err := applyEnv(&cfg, lookup); err != nil {
		return Config{}, err
	}

	var flagErr error
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "ugps-host":
			cfg.UGPS.Host = *ugpsHost
		case "mavlink-host":
			cfg.Mavlink.Host = *mavlinkHost
		case "qgc-ip":
			cfg.QGC.IP = *qgcIP
		case "update-period":
			d, err := parsePeriod(*updatePeriod)
			if err != nil {
				flagErr = fmt.Errorf("-update-period: %w", err)
				return
			}
			cfg.SetUpdatePeriod(d)
		case "ignore-gps":
			cfg.UGPS.IgnoreGPS = *ignoreGPS
		case "ignore-acoustic":
			cfg.UGPS.IgnoreAcoustic = *ignoreAcoustic
		case "log-level":
			cfg.Log.Level = *logLevel
		case "logfile":
			cfg.Log.TimestampedFile = *logFile
		case "web-listen":
			cfg.Web.Listen = *webListen
		case "mqtt-broker":
			cfg.MQTT.Broker = *mqttBroker
		}
	})
	if flagErr != nil {
		return Config{}, flagErr
	}

	if err := cfg.DefaultAndValidate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config, lookup LookupFunc) error {
	if v, ok := lookup("UGPS_HOST"); ok {
		cfg.UGPS.Host = v
	}
	if v, ok := lookup("MAVLINK_HOST"); ok {
		cfg.Mavlink.Host = v
	}
	// Set but empty disables NMEA output.
	if v, ok := lookup("QGC_IP"); ok {
		cfg.QGC.IP = v
	}
	if v, ok := lookup("UPDATE_PERIOD"); ok && strings.TrimSpace(v) != "" {
		d, err := parsePeriod(v)
		if err != nil {
			return fmt.Errorf("UPDATE_PERIOD: %w", err)
		}
		cfg.SetUpdatePeriod(d)
	}
	if v, ok := lookup("MQTT_BROKER"); ok {
		cfg.MQTT.Broker = v
	}
	if v, ok := lookup("WEB_LISTEN"); ok {
		cfg.Web.Listen = v
	}
	if v, ok := lookup("LOG_LEVEL"); ok && strings.TrimSpace(v) != "" {
		cfg.Log.Level = v
	}
	return nil
}

// parsePeriod accepts plain seconds ("0.25") or a Go duration ("250ms").
func parsePeriod(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if secs, err := strconv.ParseFloat(s, 64); err == nil {
		if secs <= 0 {
			return 0, fmt.Errorf("must be > 0")
		}
		return time.Duration(secs * float64(time.Second)), nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid period %q", s)
	}
	if d <= 0 {
		return 0, fmt.Errorf("must be > 0")
	}
	return d, nil
}
