// Package memguard tracks host memory pressure and gates ingestion work
// until enough headroom is available, mirroring the backpressure loop the
// original worker processes used around every batched model call.
package memguard

import (
	"bytes"
	"context"
	"os/exec"
	"time"

	"github.com/shirou/gopsutil/v4/mem"
)

// Snapshot is a point-in-time read of host memory pressure.
type Snapshot struct {
	Total     uint64
	Available uint64
	Free      uint64
	Used      uint64
	Percent   float64
	// MPSFree holds unified-memory headroom reported by an optional probe
	// command on Apple Silicon hosts; nil when no probe is configured or it
	// failed to run.
	MPSFree *uint64
}

// Guard gates batched work on available host memory, following the same
// poll-and-wait contract as the original memory guard: callers check
// IsUnderPressure before committing to a batch size and call WaitForRecovery
// before retrying work that was deferred.
type Guard struct {
	minFreeBytes uint64
	recoveryPoll time.Duration
	probeCommand string
}

// Option configures a Guard at construction time.
type Option func(*Guard)

// WithRecoveryPoll overrides the default 2s polling interval used by
// WaitForRecovery.
func WithRecoveryPoll(d time.Duration) Option {
	return func(g *Guard) { g.recoveryPoll = d }
}

// WithMPSProbe sets a shell command whose stdout is parsed as a decimal byte
// count of unified-memory headroom, for hosts using Apple Silicon GPUs.
func WithMPSProbe(cmd string) Option {
	return func(g *Guard) { g.probeCommand = cmd }
}

// New creates a Guard that considers the host under pressure once free
// memory drops below minFreeBytes.
func New(minFreeBytes uint64, opts ...Option) *Guard {
	g := &Guard{minFreeBytes: minFreeBytes, recoveryPoll: 2 * time.Second}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Snapshot reads current host memory stats, plus the MPS probe when
// configured. Probe failures are swallowed; MPSFree stays nil.
func (g *Guard) Snapshot(ctx context.Context) (Snapshot, error) {
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return Snapshot{}, err
	}

	snap := Snapshot{
		Total:     vm.Total,
		Available: vm.Available,
		Free:      vm.Free,
		Used:      vm.Used,
		Percent:   vm.UsedPercent,
	}

	if g.probeCommand != "" {
		if free, ok := g.probeMPSFree(ctx); ok {
			snap.MPSFree = &free
		}
	}

	return snap, nil
}

func (g *Guard) probeMPSFree(ctx context.Context) (uint64, bool) {
	cmd := exec.CommandContext(ctx, "sh", "-c", g.probeCommand)
	var out bytes.Buffer
	cmd.Stdout = &out
	if err := cmd.Run(); err != nil {
		return 0, false
	}
	return parseUint(bytes.TrimSpace(out.Bytes()))
}

func parseUint(b []byte) (uint64, bool) {
	var n uint64
	if len(b) == 0 {
		return 0, false
	}
	for _, c := range b {
		if c < '0' || c > '9' {
			return 0, false
		}
		n = n*10 + uint64(c-'0')
	}
	return n, true
}

// IsUnderPressure reports whether free (or MPS) memory is below the
// configured floor.
func (g *Guard) IsUnderPressure(ctx context.Context) (bool, error) {
	snap, err := g.Snapshot(ctx)
	if err != nil {
		return false, err
	}
	if snap.Free < g.minFreeBytes {
		return true, nil
	}
	if snap.MPSFree != nil && *snap.MPSFree < g.minFreeBytes {
		return true, nil
	}
	return false, nil
}

// WaitForRecovery blocks, polling at the configured interval, until the host
// is no longer under memory pressure or ctx is cancelled.
func (g *Guard) WaitForRecovery(ctx context.Context) error {
	for {
		under, err := g.IsUnderPressure(ctx)
		if err != nil {
			return err
		}
		if !under {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(g.recoveryPoll):
		}
	}
}

// NextBatchSize halves the current batch size under pressure, with a floor
// of 2, matching the embedder's rolling batch-size backpressure behavior.
// It never grows the batch size back up on its own; callers reset to the
// starting size at the beginning of each new embedding call.
func NextBatchSize(current int, underPressure bool) int {
	if !underPressure {
		return current
	}
	next := current / 2
	if next < 2 {
		return 2
	}
	return next
}
