package web

import (
	"net/http"
	"runtime"
	"runtime/debug"
	"sync"
)

const serviceName = "ugps-bridge"

// DeviceInfo identifies the topside unit the bridge talks to.
type DeviceInfo struct {
	Version string `json:"version,omitempty"`
	ChipID  string `json:"chip_id,omitempty"`
	Product string `json:"product,omitempty"`
}

type BuildInfo struct {
	GoVersion string `json:"go_version"`
	Module    string `json:"module,omitempty"`
	Version   string `json:"version,omitempty"`
	Commit    string `json:"commit,omitempty"`
	Dirty     bool   `json:"dirty,omitempty"`
}

type AboutResponse struct {
	Service   string      `json:"service"`
	SessionID string      `json:"session_id"`
	Build     BuildInfo   `json:"build"`
	Device    *DeviceInfo `json:"device,omitempty"`
}

var readBuildInfo = sync.OnceValue(func() BuildInfo {
	out := BuildInfo{GoVersion: runtime.Version()}
	bi, ok := debug.ReadBuildInfo()
	if !ok || bi == nil {
		return out
	}
	out.Module = bi.Main.Path
	out.Version = bi.Main.Version
	for _, s := range bi.Settings {
		switch s.Key {
		case "vcs.revision":
			out.Commit = s.Value
		case "vcs.modified":
			out.Dirty = s.Value == "true"
		}
	}
	return out
})

func aboutHandler(status *Status) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.Header().Set("Allow", http.MethodGet)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		writeJSON(w, http.StatusOK, AboutResponse{
			Service:   serviceName,
			SessionID: status.sessionID,
			Build:     readBuildInfo(),
			Device:    status.device(),
		})
	})
}
