package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"ugps-bridge/internal/bridge"
	"ugps-bridge/internal/config"
	"ugps-bridge/internal/logging"
	"ugps-bridge/internal/mavlink"
	"ugps-bridge/internal/mqtt"
	"ugps-bridge/internal/scheduler"
	"ugps-bridge/internal/udp"
	"ugps-bridge/internal/ugps"
	"ugps-bridge/internal/web"
)

const (
	serviceName  = "ugps-bridge"
	aboutTimeout = 5 * time.Second
	logTailLines = 2000
)

// run blocks until ctx is cancelled or a component fails to start.
// Device outages are not fatal; the scheduler retries them.
func run(ctx context.Context, args []string, lookup config.LookupFunc, stderr io.Writer) error {
	cfg, err := config.FromArgs(args, lookup, stderr)
	if err != nil {
		return err
	}

	sessionID := uuid.NewString()
	logs := web.NewLogBuffer(logTailLines)
	log, err := newLogger(cfg.Log, sessionID, logs)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	rt, err := newRuntime(cfg, sessionID, log)
	if err != nil {
		log.Error("startup failed", zap.Error(err))
		return err
	}
	defer rt.close()

	log.Info("ugps-bridge starting",
		zap.String("ugps", cfg.UGPS.Host),
		zap.String("mavlink", cfg.Mavlink.Host),
		zap.Bool("nmea", cfg.QGC.Enabled()),
		zap.Bool("mqtt", cfg.MQTT.Enabled()),
		zap.Duration("fusion_interval", cfg.Intervals.Fusion),
		zap.Bool("ignore_gps", cfg.UGPS.IgnoreGPS),
		zap.Bool("ignore_acoustic", cfg.UGPS.IgnoreAcoustic),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return rt.sched.Run(gctx) })
	g.Go(func() error {
		rt.recordDevice(gctx)
		return nil
	})
	if cfg.Web.Listen != "" {
		handler := web.Handler(rt.status, rt.positions, logs, log.Named("web"))
		g.Go(func() error {
			if err := web.Serve(gctx, cfg.Web.Listen, handler); err != nil {
				return fmt.Errorf("web server: %w", err)
			}
			return nil
		})
		log.Info("status api listening", zap.String("addr", cfg.Web.Listen))
	}

	err = g.Wait()
	log.Info("ugps-bridge stopping")
	return err
}

func newLogger(lc config.LogConfig, sessionID string, tee *web.LogBuffer) (*zap.Logger, error) {
	file := lc.File
	if file == "" && lc.TimestampedFile {
		file = logging.TimestampedFile(".", time.Now())
	}
	return logging.New(logging.Config{
		Level:     lc.Level,
		Format:    lc.Format,
		File:      file,
		Service:   serviceName,
		SessionID: sessionID,
		Tee:       tee,
	})
}

type runtime struct {
	log       *zap.Logger
	device    *ugps.Client
	bridge    *bridge.Bridge
	sched     *scheduler.Scheduler
	status    *web.Status
	positions *web.PositionBroadcaster

	sender    *udp.Sender
	publisher *mqtt.Publisher
}

func newRuntime(cfg config.Config, sessionID string, log *zap.Logger) (*runtime, error) {
	rt := &runtime{log: log, positions: web.NewPositionBroadcaster()}

	device, err := ugps.New(cfg.UGPS.Host, ugps.Options{
		IgnoreGPS:      cfg.UGPS.IgnoreGPS,
		IgnoreAcoustic: cfg.UGPS.IgnoreAcoustic,
		Timeout:        cfg.UGPS.Timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("ugps client: %w", err)
	}
	rt.device = device

	autopilot, err := mavlink.New(mavlink.Config{
		BaseURL:         cfg.Mavlink.Host,
		SystemID:        cfg.Mavlink.SystemID,
		ComponentID:     cfg.Mavlink.ComponentID,
		TargetSystem:    cfg.Mavlink.TargetSystem,
		TargetComponent: cfg.Mavlink.TargetComponent,
		Timeout:         cfg.Mavlink.Timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("mavlink client: %w", err)
	}

	deps := bridge.Deps{
		Source:    device,
		Telemetry: autopilot,
		DepthSink: device,
		Autopilot: autopilot,
	}
	endpoints := map[string]string{
		"ugps":    cfg.UGPS.Host,
		"mavlink": cfg.Mavlink.Host,
	}

	if cfg.QGC.Enabled() {
		sender, err := udp.NewSender(cfg.QGC.Dest())
		if err != nil {
			rt.close()
			return nil, fmt.Errorf("nmea sender: %w", err)
		}
		rt.sender = sender
		deps.NMEA = sender
		endpoints["nmea"] = sender.Dest()
	}

	if cfg.MQTT.Enabled() {
		pub, err := mqtt.New(mqtt.Config{
			Broker:   cfg.MQTT.Broker,
			ClientID: cfg.MQTT.ClientID + "-" + sessionID[:8],
			Topic:    cfg.MQTT.Topic,
			Username: cfg.MQTT.Username,
			Password: cfg.MQTT.Password,
			QoS:      byte(cfg.MQTT.QoS),
			Retained: cfg.MQTT.Retained,
		}, log.Named("mqtt"))
		if err != nil {
			rt.close()
			return nil, fmt.Errorf("mqtt publisher: %w", err)
		}
		rt.publisher = pub
		deps.Mirror = pub
		endpoints["mqtt"] = cfg.MQTT.Broker + " " + pub.Topic()
	}

	b, err := bridge.New(deps, bridge.Options{
		ForwardOrientation: cfg.Ingress.Orientation,
		OnFused:            rt.positions.Publish,
	}, log.Named("bridge"))
	if err != nil {
		rt.close()
		return nil, err
	}
	rt.bridge = b

	sched, err := scheduler.New(log.Named("scheduler"), b.Tasks(bridge.Intervals{
		Fusion:  cfg.Intervals.Fusion,
		Mavlink: cfg.Intervals.Mavlink,
		Depth:   cfg.Intervals.Depth,
		NMEA:    cfg.Intervals.NMEA,
		MQTT:    cfg.Intervals.MQTT,
		Setup:   cfg.Mavlink.Setup,
	})...)
	if err != nil {
		rt.close()
		return nil, err
	}
	rt.sched = sched

	rt.status = web.NewStatus(sessionID, b.Latest())
	rt.status.SetEndpoints(endpoints)
	rt.status.SetTasks(sched)
	return rt, nil
}

// recordDevice asks the topside for its identity once. Failure is
// logged and otherwise ignored.
func (rt *runtime) recordDevice(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, aboutTimeout)
	defer cancel()

	about, err := rt.device.About(ctx)
	if err != nil {
		if !errors.Is(ctx.Err(), context.Canceled) {
			rt.log.Warn("ugps about unavailable", zap.Error(err))
		}
		return
	}
	rt.status.SetDevice(web.DeviceInfo{Version: about.Version, ChipID: about.ChipID, Product: about.ProductName})
	rt.log.Info("ugps connected",
		zap.String("version", about.Version),
		zap.String("chip_id", about.ChipID),
		zap.String("product", about.ProductName),
	)
}

func (rt *runtime) close() {
	if rt.publisher != nil {
		rt.publisher.Close()
	}
	if rt.sender != nil {
		_ = rt.sender.Close()
	}
}
