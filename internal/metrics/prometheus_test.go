package metrics

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_ObserveRun(t *testing.T) {
	r := New()
	started := time.Unix(1700000000, 0)

	r.ObserveRun("partial", started, 1500*time.Millisecond, false)
	assert.Equal(t, 1.0, testutil.ToFloat64(r.RunOutcome.WithLabelValues("partial")))
	assert.Equal(t, 0.0, testutil.ToFloat64(r.RunOutcome.WithLabelValues("ok")))
	assert.Equal(t, 1.5, testutil.ToFloat64(r.RunDuration))
	assert.Equal(t, 1700000000.0, testutil.ToFloat64(r.LastRunTimestamp))
	assert.Equal(t, 0.0, testutil.ToFloat64(r.LastSuccessTimestamp))

	r.ObserveRun("ok", started.Add(time.Minute), time.Second, true)
	assert.Equal(t, 0.0, testutil.ToFloat64(r.RunOutcome.WithLabelValues("partial")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.RunOutcome.WithLabelValues("ok")))
	assert.Equal(t, 1700000060.0, testutil.ToFloat64(r.LastSuccessTimestamp))
}

func TestRegistry_Operations(t *testing.T) {
	r := New()
	r.ObserveOperation("add", nil)
	r.ObserveOperation("add", nil)
	r.ObserveOperation("remove", errors.New("boom"))

	assert.Equal(t, 2.0, testutil.ToFloat64(r.RuleOperations.WithLabelValues("add", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.RuleOperations.WithLabelValues("remove", "error")))

	r.ObserveResolution(4, []string{"timeout", "nxdomain", "timeout"})
	assert.Equal(t, 4.0, testutil.ToFloat64(r.Entries))
	assert.Equal(t, 2.0, testutil.ToFloat64(r.ResolutionFailures.WithLabelValues("timeout")))

	r.ObservePlan(3, 2, 1)
	assert.Equal(t, 3.0, testutil.ToFloat64(r.RulesLive))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.RulesPreserved))
}

func TestRegistry_NilIsNoop(t *testing.T) {
	var r *Registry
	r.ObserveRun("ok", time.Now(), time.Second, true)
	r.ObserveOperation("add", nil)
	r.ObserveResolution(1, nil)
	r.ObservePlan(1, 1, 0)
	r.ObserveLockWait(time.Second)
	r.ObserveCache(1)
	assert.NoError(t, r.WriteTextfile("/nonexistent/x.prom"))
}

func TestRegistry_WriteTextfile(t *testing.T) {
	r := New()
	r.ObserveCache(42)
	r.ObserveLockWait(250 * time.Millisecond)

	path := filepath.Join(t.TempDir(), "ddnsfw.prom")
	require.NoError(t, r.WriteTextfile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	text := string(data)
	assert.True(t, strings.Contains(text, "ddnsfw_cache_generation 42"), text)
	assert.True(t, strings.Contains(text, "ddnsfw_lock_wait_seconds 0.25"), text)
	assert.True(t, strings.Contains(text, `ddnsfw_last_run_outcome{outcome="busy"} 0`), text)
}

func TestRegistry_Independent(t *testing.T) {
	a, b := New(), New()
	a.ObserveCache(1)
	assert.Equal(t, 0.0, testutil.ToFloat64(b.CacheGeneration))

	n, err := testutil.GatherAndCount(a.Gatherer(), "ddnsfw_cache_generation")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
