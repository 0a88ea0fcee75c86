// Package supervisor runs the long-lived pieces of the pulsetrack binaries
// under a suture supervisor tree.
package supervisor

import (
	"context"
	"log/slog"
	"time"

	"github.com/thejerf/suture/v4"
	"github.com/thejerf/sutureslog"
)

// TreeConfig holds supervisor tree tuning. Zero values select suture's
// defaults.
type TreeConfig struct {
	FailureThreshold float64
	FailureDecay     float64
	FailureBackoff   time.Duration
	ShutdownTimeout  time.Duration
}

func (c TreeConfig) withDefaults() TreeConfig {
	if c.FailureThreshold == 0 {
		c.FailureThreshold = 5
	}
	if c.FailureDecay == 0 {
		c.FailureDecay = 30
	}
	if c.FailureBackoff == 0 {
		c.FailureBackoff = 15 * time.Second
	}
	if c.ShutdownTimeout == 0 {
		c.ShutdownTimeout = 10 * time.Second
	}
	return c
}

// Tree has two layers: api (HTTP listener) and jobs (Temporal worker,
// rollup scheduler). A crashing job restarts without touching the API.
type Tree struct {
	root *suture.Supervisor
	api  *suture.Supervisor
	jobs *suture.Supervisor
}

// NewTree builds an empty tree whose lifecycle events are logged to logger.
func NewTree(name string, logger *slog.Logger, cfg TreeConfig) *Tree {
	cfg = cfg.withDefaults()
	hook := (&sutureslog.Handler{Logger: logger}).MustHook()

	spec := suture.Spec{
		FailureThreshold: cfg.FailureThreshold,
		FailureDecay:     cfg.FailureDecay,
		FailureBackoff:   cfg.FailureBackoff,
		Timeout:          cfg.ShutdownTimeout,
	}
	rootSpec := spec
	rootSpec.EventHook = hook

	t := &Tree{
		root: suture.New(name, rootSpec),
		api:  suture.New("api-layer", spec),
		jobs: suture.New("jobs-layer", spec),
	}
	t.root.Add(t.api)
	t.root.Add(t.jobs)
	return t
}

func (t *Tree) AddAPIService(svc suture.Service) suture.ServiceToken {
	return t.api.Add(svc)
}

func (t *Tree) AddJobService(svc suture.Service) suture.ServiceToken {
	return t.jobs.Add(svc)
}

// Serve blocks until ctx is canceled or the root supervisor gives up.
func (t *Tree) Serve(ctx context.Context) error {
	return t.root.Serve(ctx)
}

func (t *Tree) ServeBackground(ctx context.Context) <-chan error {
	return t.root.ServeBackground(ctx)
}

// UnstoppedServiceReport lists services that ignored the shutdown timeout.
// It is only meaningful once Serve has returned.
func (t *Tree) UnstoppedServiceReport() ([]suture.UnstoppedService, error) {
	return t.root.UnstoppedServiceReport()
}

// LogUnstopped warns about every service still running after shutdown and
// returns how many there were.
func (t *Tree) LogUnstopped(logger *slog.Logger) int {
	unstopped, err := t.UnstoppedServiceReport()
	if err != nil {
		logger.Debug("unstopped service report unavailable", "error", err)
		return 0
	}
	for _, svc := range unstopped {
		logger.Warn("service failed to stop", "service", svc.Name)
	}
	if len(unstopped) > 0 {
		logger.Warn("services failed to stop within timeout", "count", len(unstopped))
	}
	return len(unstopped)
}
