package faults

import (
	"log/slog"
	"time"

	"github.com/ably/ably-asset-tracking-test-proxy/internal/metrics"
)

// Dependencies are the fixed, process-wide values every fault's proxy is
// built from. The design assumes a single concurrent simulation, so every
// Fault.Simulate call binds against the same listen/target configuration.
type Dependencies struct {
	ListenHost  string
	ListenPort  int
	TargetHost  string
	TargetPort  int
	DialTimeout time.Duration
	Logger      *slog.Logger
	Metrics     *metrics.Metrics
}

func (d Dependencies) logger() *slog.Logger {
	if d.Logger == nil {
		return slog.Default()
	}
	return d.Logger
}
