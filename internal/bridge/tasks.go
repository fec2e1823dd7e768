package bridge

import (
	"time"

	"ugps-bridge/internal/scheduler"
)

// Task names as they appear in logs and the status API.
const (
	TaskSetup    = "autopilot_setup"
	TaskFusion   = "fusion_poll"
	TaskMavlink  = "mavlink_egress"
	TaskNMEA     = "nmea_egress"
	TaskDepth    = "depth_ingress"
	TaskMQTT     = "mqtt_mirror"
	setupRetry   = 2 * time.Second
	setupBackoff = 30 * time.Second
)

type Intervals struct {
	Fusion  time.Duration
	Mavlink time.Duration
	Depth   time.Duration
	NMEA    time.Duration
	MQTT    time.Duration
	// Setup enables the one-shot autopilot configuration task.
	Setup bool
}

// Tasks returns one scheduler task per enabled loop. Loops never call each
// other; they share only the latest fused position.
func (b *Bridge) Tasks(iv Intervals) []scheduler.Task {
	var tasks []scheduler.Task
	if iv.Setup {
		tasks = append(tasks, scheduler.Task{
			Name:       TaskSetup,
			Interval:   setupRetry,
			BackoffMax: setupBackoff,
			Once:       true,
			Run:        b.SetupAutopilot,
		})
	}
	tasks = append(tasks,
		scheduler.Task{Name: TaskFusion, Interval: iv.Fusion, Run: b.PollFusion},
		scheduler.Task{Name: TaskMavlink, Interval: iv.Mavlink, Run: b.SendMavlink},
		scheduler.Task{Name: TaskDepth, Interval: iv.Depth, Run: b.ForwardDepth},
	)
	if b.deps.NMEA != nil {
		tasks = append(tasks, scheduler.Task{Name: TaskNMEA, Interval: iv.NMEA, Run: b.SendNMEA})
	}
	if b.deps.Mirror != nil {
		tasks = append(tasks, scheduler.Task{Name: TaskMQTT, Interval: iv.MQTT, Run: b.MirrorMQTT})
	}
	return tasks
}
