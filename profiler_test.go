package gpubvh

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runFrame(p *Profiler) {
	p.BeginScope("rebuild")
	p.BeginScope("primitives")
	p.EndScope("primitives")
	p.BeginScope("sort")
	p.EndScope("sort")
	p.EndScope("rebuild")
}

func TestProfilerNesting(t *testing.T) {
	p := NewProfiler()
	runFrame(p)

	require.Contains(t, p.scopes, "rebuild")
	require.Contains(t, p.scopes, "primitives")
	assert.Equal(t, 0, p.scopes["rebuild"].depth)
	assert.Equal(t, 1, p.scopes["primitives"].depth)
	assert.Equal(t, 1, p.scopes["sort"].depth)
	assert.Empty(t, p.active, "all scopes closed after the frame")
}

func TestProfilerFrameHistory(t *testing.T) {
	p := NewProfiler()
	runFrame(p)
	runFrame(p)
	runFrame(p)

	s := p.scopes["rebuild"]
	assert.Equal(t, 3, s.samples)
	assert.GreaterOrEqual(t, s.peak, s.last)
	assert.GreaterOrEqual(t, s.total, s.peak)
	assert.GreaterOrEqual(t, p.LastDuration("rebuild"), p.LastDuration("primitives"))
}

func TestProfilerUnbalancedEndDropped(t *testing.T) {
	p := NewProfiler()
	p.EndScope("never-opened")
	p.BeginScope("frame")
	p.EndScope("frame")
	p.EndScope("frame") // second end is a no-op

	assert.Equal(t, 1, p.scopes["frame"].samples)
}

func TestProfilerReset(t *testing.T) {
	p := NewProfiler()
	runFrame(p)
	p.SetCount("primitives", 42)
	p.Reset()

	assert.Zero(t, p.scopes["rebuild"].samples)
	assert.Zero(t, p.scopes["rebuild"].last)
	assert.Zero(t, p.counts["primitives"])
	// Order survives a reset.
	assert.Equal(t, []string{"rebuild", "primitives", "sort"}, p.order)
}

func TestProfilerStatsString(t *testing.T) {
	p := NewProfiler()
	runFrame(p)
	p.SetCount("bvh nodes", 31)

	out := p.GetStatsString()
	assert.Contains(t, out, "rebuild")
	assert.Contains(t, out, "primitives")
	assert.Contains(t, out, "bvh nodes")
	// Nested stages indent one level deeper than the frame scope.
	assert.True(t, strings.Contains(out, "\n    primitives"), "stage scopes are indented:\n%s", out)
}
