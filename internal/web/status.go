package web

import (
	"sync/atomic"
	"time"

	"ugps-bridge/internal/fusion"
	"ugps-bridge/internal/scheduler"
)

// TaskSource reports scheduler counters. *scheduler.Scheduler implements it.
type TaskSource interface {
	Snapshot() []scheduler.TaskSnapshot
}

type Status struct {
	startUnixNano int64
	sessionID     string
	endpoints     atomic.Value // map[string]string
	dev           atomic.Pointer[DeviceInfo]
	latest        *fusion.Latest
	tasks         atomic.Value // TaskSource
}

// NewStatus reports on latest, which may be nil.
func NewStatus(sessionID string, latest *fusion.Latest) *Status {
	s := &Status{sessionID: sessionID, latest: latest}
	atomic.StoreInt64(&s.startUnixNano, time.Now().UTC().UnixNano())
	s.endpoints.Store(map[string]string{})
	return s
}

// SetEndpoints records where the bridge reads and writes, for display only.
func (s *Status) SetEndpoints(endpoints map[string]string) {
	cp := make(map[string]string, len(endpoints))
	for k, v := range endpoints {
		cp[k] = v
	}
	s.endpoints.Store(cp)
}

// SetDevice records the topside identity once it has been read.
func (s *Status) SetDevice(d DeviceInfo) {
	s.dev.Store(&d)
}

func (s *Status) device() *DeviceInfo {
	d := s.dev.Load()
	if d == nil {
		return nil
	}
	cp := *d
	return &cp
}

func (s *Status) SetTasks(src TaskSource) {
	if src != nil {
		s.tasks.Store(src)
	}
}

type StatusSnapshot struct {
	Service   string                   `json:"service"`
	SessionID string                   `json:"session_id"`
	NowUTC    string                   `json:"now_utc"`
	UptimeSec int64                    `json:"uptime_sec"`
	Device    *DeviceInfo              `json:"device,omitempty"`
	Endpoints map[string]string        `json:"endpoints"`
	Tasks     []scheduler.TaskSnapshot `json:"tasks"`
	Position  *fusion.Published        `json:"position,omitempty"`
}

func (s *Status) Snapshot(nowUTC time.Time) StatusSnapshot {
	if nowUTC.IsZero() {
		nowUTC = time.Now().UTC()
	}
	start := time.Unix(0, atomic.LoadInt64(&s.startUnixNano)).UTC()

	snap := StatusSnapshot{
		Service:   serviceName,
		SessionID: s.sessionID,
		NowUTC:    nowUTC.UTC().Format(time.RFC3339Nano),
		UptimeSec: int64(nowUTC.Sub(start).Seconds()),
		Device:    s.device(),
		Endpoints: s.endpoints.Load().(map[string]string),
		Tasks:     []scheduler.TaskSnapshot{},
	}
	if src, ok := s.tasks.Load().(TaskSource); ok {
		snap.Tasks = src.Snapshot()
	}
	if p, ok := s.latest.Load(); ok {
		snap.Position = &p
	}
	return snap
}
