package peers

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPeerStartsHealthy(t *testing.T) {
	p := New(Config{Host: "parent.example.com", Port: 1488, Kind: Parent, Weight: 1.0})
	assert.True(t, p.IsHealthy())
	assert.Equal(t, "parent:parent.example.com:1488", p.ID)
}

func TestStatsHitRate(t *testing.T) {
	p := New(Config{Host: "test.example.com", Port: 1488, Kind: Parent, Weight: 1.0})

	p.Stats.RecordRequest()
	p.Stats.RecordHit(1024)
	p.Stats.RecordRequest()
	p.Stats.RecordMiss()

	assert.Equal(t, uint64(2), p.Stats.Snapshot().Requests)
	assert.Equal(t, uint64(1), p.Stats.Snapshot().Hits)
	assert.Equal(t, uint64(1), p.Stats.Snapshot().Misses)
	assert.Equal(t, 0.5, p.Stats.HitRate())
}

func TestScoreZeroWhenUnhealthy(t *testing.T) {
	p := New(Config{Host: "x", Port: 1, Kind: Parent, Weight: 1.0})
	p.SetHealthy(false)
	assert.Zero(t, p.Score())
}

func TestScoreAccountsForRTTAndWeight(t *testing.T) {
	fast := New(Config{Host: "a", Port: 1, Kind: Parent, Weight: 1.0})
	slow := New(Config{Host: "b", Port: 1, Kind: Parent, Weight: 1.0})
	slow.UpdateRTT(500 * time.Millisecond)

	assert.Greater(t, fast.Score(), slow.Score())
}

func TestRegistryAddGetRemove(t *testing.T) {
	r := NewRegistry()
	p := r.Add(Config{Host: "parent1.example.com", Port: 1488, Kind: Parent, Weight: 1.0})

	got, ok := r.Get(p.ID)
	require.True(t, ok)
	assert.Same(t, p, got)

	assert.True(t, r.Remove(p.ID))
	_, ok = r.Get(p.ID)
	assert.False(t, ok)
}

func TestRegistryPartitionsByKind(t *testing.T) {
	r := NewRegistry()
	r.Add(Config{Host: "parent1.example.com", Port: 1488, Kind: Parent, Weight: 1.0})
	r.Add(Config{Host: "sibling1.example.com", Port: 1488, Kind: Sibling, Weight: 0.5, ICPPort: 3130})

	assert.Len(t, r.All(), 2)
	assert.Len(t, r.Parents(), 1)
	assert.Len(t, r.Siblings(), 1)
}

func TestHealthCheckFlipsUnhealthyThenRecovers(t *testing.T) {
	r := NewRegistry()
	p := r.Add(Config{Host: "flaky.example.com", Port: 1488, Kind: Parent, Weight: 1.0})

	for i := 0; i < 10; i++ {
		p.Stats.RecordRequest()
		p.Stats.RecordError()
	}
	r.HealthCheck()
	assert.False(t, p.IsHealthy())

	for i := 0; i < 100; i++ {
		p.Stats.RecordRequest()
		p.Stats.RecordHit(1)
	}
	r.HealthCheck()
	assert.True(t, p.IsHealthy())
}

func TestHealthyExcludesUnhealthyPeers(t *testing.T) {
	r := NewRegistry()
	p := r.Add(Config{Host: "x", Port: 1, Kind: Parent, Weight: 1.0})
	p.SetHealthy(false)

	assert.Empty(t, r.Healthy())
	assert.Len(t, r.All(), 1)
}
