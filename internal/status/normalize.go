package status

import (
	"strings"

	"github.com/aceteam-ai/nosana-monitor/internal/nosana"
)

// Normalize maps the node's raw payloads to a canonical Status. A nil info
// means the info fetch failed or could not be decoded.
func Normalize(info *nosana.NodeInfo, specs *nosana.NodeSpecs) Status {
	if info == nil {
		return StatusOffline
	}

	raw := strings.TrimSpace(info.State.String())
	if raw == "" && specs != nil {
		raw = strings.TrimSpace(specs.Status.String())
	}

	if strings.EqualFold(raw, "QUEUED") {
		return StatusQueued
	}
	// Any other reachable state counts as running, including states the node
	// software may add later. Revisit if new idle states appear upstream.
	return StatusRunning
}
