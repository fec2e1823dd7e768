// Package bridge wires the device clients into the periodic loops that move
// position data from the underwater GPS to the autopilot and ground control,
// and depth data the other way.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"ugps-bridge/internal/fusion"
	"ugps-bridge/internal/mavlink"
	"ugps-bridge/internal/nmea"
)

type PositionSource interface {
	Poll(ctx context.Context) (fusion.TopsideFix, fusion.AcousticFix, error)
}

type DepthReader interface {
	ReadDepth(ctx context.Context) (mavlink.DepthSample, error)
}

type DepthSink interface {
	PublishDepth(ctx context.Context, depthM, tempC float64) error
	PublishOrientation(ctx context.Context, headingDeg float64) error
}

type Autopilot interface {
	SendGPSInput(ctx context.Context, p fusion.FusedPosition) error
	Setup(ctx context.Context) error
}

type SentenceSender interface {
	SendAll(payloads [][]byte) error
}

type Mirror interface {
	Publish(ctx context.Context, p fusion.Published) error
}

// Deps are the bridge's collaborators. NMEA and Mirror may be nil, which
// disables their loops.
type Deps struct {
	Source    PositionSource
	Telemetry DepthReader
	DepthSink DepthSink
	Autopilot Autopilot
	NMEA      SentenceSender
	Mirror    Mirror
}

type Options struct {
	// ForwardOrientation also sends the vehicle heading to the device.
	ForwardOrientation bool
	// OnFused is called after every successful fusion.
	OnFused func(fusion.Published)
}

type Bridge struct {
	deps   Deps
	opts   Options
	log    *zap.Logger
	latest fusion.Latest
	now    func() time.Time

	lastMirrored atomic.Uint64
}

func New(deps Deps, opts Options, log *zap.Logger) (*Bridge, error) {
	if deps.Source == nil {
		return nil, fmt.Errorf("position source is required")
	}
	if deps.Autopilot == nil {
		return nil, fmt.Errorf("autopilot is required")
	}
	if deps.Telemetry == nil || deps.DepthSink == nil {
		return nil, fmt.Errorf("telemetry reader and depth sink are required")
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Bridge{deps: deps, opts: opts, log: log, now: time.Now}, nil
}

// Latest exposes the last fused position for read-only consumers.
func (b *Bridge) Latest() *fusion.Latest { return &b.latest }

// PollFusion polls the device, fuses, and publishes the result. On error
// nothing is published, so egress keeps sending the previous position.
func (b *Bridge) PollFusion(ctx context.Context) error {
	top, ac, err := b.deps.Source.Poll(ctx)
	if err != nil {
		return err
	}
	fused := fusion.Fuse(top, ac)
	now := b.now()
	seq := b.latest.Publish(fused, now)
	b.log.Debug("fused position",
		zap.Uint64("seq", seq),
		zap.Stringer("mode", fused.Mode),
		zap.Stringer("fix", fused.Fix),
		zap.Float64("lat", fused.Lat),
		zap.Float64("lon", fused.Lon),
		zap.Float64("horiz_accuracy", fused.HorizAccuracy),
	)
	if b.opts.OnFused != nil {
		b.opts.OnFused(fusion.Published{Position: fused, Seq: seq, PublishedAt: now})
	}
	return nil
}

// SendMavlink sends the latest position, or an explicit no-fix record before
// the first fusion so the autopilot knows the input is invalid.
func (b *Bridge) SendMavlink(ctx context.Context) error {
	return b.deps.Autopilot.SendGPSInput(ctx, b.latest.PositionOrUnavailable())
}

// SendNMEA sends the latest position to ground control. Nothing is sent
// before the first fusion.
func (b *Bridge) SendNMEA(ctx context.Context) error {
	if b.deps.NMEA == nil {
		return nil
	}
	pub, ok := b.latest.Load()
	if !ok {
		return nil
	}
	p := pub.Position
	if p.Time.IsZero() {
		p.Time = pub.PublishedAt
	}
	return b.deps.NMEA.SendAll(nmea.Sentences(p))
}

// ForwardDepth reads one depth sample from the autopilot and hands it to the
// device. Samples are never buffered or replayed.
func (b *Bridge) ForwardDepth(ctx context.Context) error {
	s, err := b.deps.Telemetry.ReadDepth(ctx)
	if err != nil {
		return err
	}
	errDepth := b.deps.DepthSink.PublishDepth(ctx, s.DepthM, s.TemperatureC)
	var errOrientation error
	if b.opts.ForwardOrientation {
		errOrientation = b.deps.DepthSink.PublishOrientation(ctx, s.HeadingDeg)
	}
	return errors.Join(errDepth, errOrientation)
}

// MirrorMQTT publishes each fused position once.
func (b *Bridge) MirrorMQTT(ctx context.Context) error {
	if b.deps.Mirror == nil {
		return nil
	}
	pub, ok := b.latest.Load()
	if !ok || pub.Seq == b.lastMirrored.Load() {
		return nil
	}
	if err := b.deps.Mirror.Publish(ctx, pub); err != nil {
		return err
	}
	b.lastMirrored.Store(pub.Seq)
	return nil
}

// SetupAutopilot configures telemetry streams and the GPS driver.
func (b *Bridge) SetupAutopilot(ctx context.Context) error {
	return b.deps.Autopilot.Setup(ctx)
}
