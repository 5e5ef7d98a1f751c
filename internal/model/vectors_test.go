package model

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultVectorsAreNeutral(t *testing.T) {
	v := DefaultVectors()
	for _, name := range VectorNames {
		assert.Equal(t, 0.5, v.Get(name), "vector %s", name)
	}
}

func TestSetClampsToUnitInterval(t *testing.T) {
	v := DefaultVectors()
	require.NoError(t, v.Set(VectorKnow, 1.7))
	assert.Equal(t, 1.0, v.Know)
	require.NoError(t, v.Set(VectorKnow, -0.3))
	assert.Equal(t, 0.0, v.Know)
}

func TestSetRejectsUnknownAndNaN(t *testing.T) {
	v := DefaultVectors()
	err := v.Set("charisma", 0.5)
	assert.ErrorIs(t, err, ErrBadInput)

	err = v.Set(VectorKnow, math.NaN())
	assert.ErrorIs(t, err, ErrBadInput)
}

func TestVectorsFromMapDefaultsMissing(t *testing.T) {
	v, err := VectorsFromMap(map[string]float64{"know": 0.9, "uncertainty": 0.2})
	require.NoError(t, err)
	assert.Equal(t, 0.9, v.Know)
	assert.Equal(t, 0.2, v.Uncertainty)
	assert.Equal(t, 0.5, v.Clarity)
}

func TestVectorsFromMapRejectsUnknownKey(t *testing.T) {
	_, err := VectorsFromMap(map[string]float64{"vibes": 0.9})
	assert.ErrorIs(t, err, ErrBadInput)
}

func TestDeltaRoundTrips(t *testing.T) {
	pre := DefaultVectors()
	post := DefaultVectors()
	require.NoError(t, post.Set(VectorKnow, 0.85))
	d := post.Delta(pre)
	assert.InDelta(t, 0.35, d["know"], 1e-9)
	assert.InDelta(t, 0.0, d["clarity"], 1e-9)
}

func TestToMapCoversAllDimensions(t *testing.T) {
	m := DefaultVectors().ToMap()
	assert.Len(t, m, 13)
}

func TestContentHashStableAndTruncated(t *testing.T) {
	h1 := ContentHash("OAuth2 module lacks PKCE")
	h2 := ContentHash("OAuth2 module lacks PKCE")
	assert.Equal(t, h1, h2)
	assert.Len(t, h1, 16)
	assert.NotEqual(t, h1, ContentHash("something else"))
}

func TestContextItemPriorityDecaysByMinutes(t *testing.T) {
	now := time.Now()
	item := ContextItem{
		Zone:           ZoneWorking,
		EpistemicValue: 0.8,
		ReferenceCount: 0,
		LastReferenced: now.Add(-10 * time.Minute),
	}
	// value × exp(−0.1 × 10) × log(2) × 1
	want := 0.8 * math.Exp(-1) * math.Log(2)
	assert.InDelta(t, want, item.Priority(now, 0.1), 1e-9)
}

func TestAnchorZoneDominatesPriority(t *testing.T) {
	now := time.Now()
	anchor := ContextItem{Zone: ZoneAnchor, EpistemicValue: 0.1, LastReferenced: now}
	cache := ContextItem{Zone: ZoneCache, EpistemicValue: 1.0, ReferenceCount: 50, LastReferenced: now}
	assert.Greater(t, anchor.Priority(now, 0.1), cache.Priority(now, 0.1))
}

func TestAttentionBudgetConsume(t *testing.T) {
	b := AttentionBudget{TotalBudget: 5, Remaining: 5}
	assert.True(t, b.Consume(3))
	assert.Equal(t, 2, b.Remaining)
	assert.False(t, b.Consume(3))
	assert.Equal(t, 2, b.Remaining)
}

func TestMessageMarkReadIdempotent(t *testing.T) {
	m := AgentMessage{}
	m.MarkRead("a1")
	m.MarkRead("a1")
	assert.Equal(t, []string{"a1"}, m.ReadBy)
}

func TestMessageTTL(t *testing.T) {
	now := time.Now()
	forever := AgentMessage{Timestamp: now.Add(-time.Hour), TTLSeconds: 0}
	assert.False(t, forever.Expired(now))

	stale := AgentMessage{Timestamp: now.Add(-time.Hour), TTLSeconds: 60}
	assert.True(t, stale.Expired(now))
}

func TestParsePhase(t *testing.T) {
	p, err := ParsePhase("CHECK")
	require.NoError(t, err)
	assert.Equal(t, PhaseCheck, p)
	assert.Equal(t, 1, p.Order())

	_, err = ParsePhase("DAYDREAM")
	assert.ErrorIs(t, err, ErrBadInput)
}
