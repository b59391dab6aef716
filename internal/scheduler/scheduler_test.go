package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultCadenceMatchesSpecOverrides(t *testing.T) {
	c := DefaultCadence()
	assert.Equal(t, 5*time.Minute, c.Mail)
	assert.Equal(t, 30*time.Minute, c.Photos)
	assert.Equal(t, 24*time.Hour, c.BulkArchive)
}

func TestIntervalForUsesOverridesAndDefault(t *testing.T) {
	s := New(10*time.Minute, DefaultCadence(), "0 3 * * *", nil)
	assert.Equal(t, 5*time.Minute, s.intervalFor("mail"))
	assert.Equal(t, 30*time.Minute, s.intervalFor("photos"))
	assert.Equal(t, 24*time.Hour, s.intervalFor("bulk_archive"))
	assert.Equal(t, 10*time.Minute, s.intervalFor("drive"))
}

type countingConnector struct {
	name    string
	calls   atomic.Int32
	blocked chan struct{}
}

func (c *countingConnector) Name() string { return c.name }

func (c *countingConnector) Run(ctx context.Context) error {
	c.calls.Add(1)
	if c.blocked != nil {
		<-c.blocked
	}
	return nil
}

func TestAddConnectorSkipsTickWhilePreviousRunInFlight(t *testing.T) {
	connector := &countingConnector{name: "drive", blocked: make(chan struct{})}
	s := New(1*time.Second, DefaultCadence(), "0 3 * * *", nil)
	require.NoError(t, s.AddConnector(connector))
	require.NoError(t, s.Start(t.Context()))
	defer s.Stop()

	time.Sleep(2200 * time.Millisecond)
	close(connector.blocked)
	time.Sleep(50 * time.Millisecond)

	// Despite ~2 ticks elapsing while the first run blocked, only one run
	// should have started: max_instances=1.
	assert.Equal(t, int32(1), connector.calls.Load())
}

func TestStartRunsBackupJob(t *testing.T) {
	done := make(chan struct{})
	backup := func(ctx context.Context) error {
		close(done)
		return nil
	}
	// "@every" is a cron descriptor recognized regardless of field-count
	// mode, which lets this test fire quickly without waiting on a minute
	// boundary the way the real "0 3 * * *" default would.
	s := New(10*time.Minute, DefaultCadence(), "@every 200ms", backup)
	require.NoError(t, s.Start(t.Context()))
	defer s.Stop()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("backup job did not run")
	}
}
