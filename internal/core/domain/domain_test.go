package domain

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLadder_SortsAndCopies(t *testing.T) {
	input := []StreamQuality{
		{ID: "1080p", BandwidthBps: 6_000_000},
		{ID: "480p", BandwidthBps: 1_000_000},
		{ID: "720p", BandwidthBps: 3_000_000},
	}
	ladder, err := NewLadder(input)
	require.NoError(t, err)

	rungs := ladder.Rungs()
	require.Len(t, rungs, 3)
	assert.Equal(t, "480p", rungs[0].ID)
	assert.Equal(t, "720p", rungs[1].ID)
	assert.Equal(t, "1080p", rungs[2].ID)

	input[0].BandwidthBps = 1
	q, ok := ladder.Find("1080p")
	require.True(t, ok)
	assert.Equal(t, int64(6_000_000), q.BandwidthBps)

	rungs[0].ID = "mutated"
	_, ok = ladder.Find("480p")
	assert.True(t, ok)
}

func TestNewLadder_Rejects(t *testing.T) {
	cases := map[string][]StreamQuality{
		"zero bandwidth": {{ID: "a", BandwidthBps: 0}},
		"duplicate id":   {{ID: "a", BandwidthBps: 1}, {ID: "a", BandwidthBps: 2}},
		"empty id":       {{ID: "", BandwidthBps: 1}},
		"reserved id":    {{ID: AutoQualityID, BandwidthBps: 1}},
	}
	for name, qs := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := NewLadder(qs)
			assert.True(t, errors.Is(err, ErrInvalidLadder))
		})
	}
}

func TestNewLadder_Empty(t *testing.T) {
	ladder, err := NewLadder(nil)
	require.NoError(t, err)
	assert.True(t, ladder.Empty())
}

func TestLadderSelect(t *testing.T) {
	ladder, err := NewLadder([]StreamQuality{
		{ID: "480p", BandwidthBps: 1_000_000},
		{ID: "720p", BandwidthBps: 3_000_000},
		{ID: "1080p", BandwidthBps: 6_000_000},
	})
	require.NoError(t, err)

	assert.Equal(t, "720p", ladder.Select(4_500_000).ID)
	assert.Equal(t, "1080p", ladder.Select(6_000_000).ID)
	assert.Equal(t, "480p", ladder.Select(10).ID)
}

func TestTelemetryDerivedValues(t *testing.T) {
	tel := Telemetry{CurrentPosition: 10, HasBufferedRange: true, BufferedRangeEnd: 14.5, DroppedFrames: 3, TotalFrames: 200}
	assert.InDelta(t, 4.5, tel.BufferLevel(), 1e-9)
	assert.InDelta(t, 1.5, tel.DroppedFrameRate(), 1e-9)

	empty := Telemetry{CurrentPosition: 10}
	assert.Zero(t, empty.BufferLevel())
	assert.Zero(t, empty.DroppedFrameRate())
}

func TestTelemetryValidate(t *testing.T) {
	assert.NoError(t, Telemetry{CurrentPosition: 1, TotalFrames: 10, DroppedFrames: 1}.Validate())
	assert.ErrorIs(t, Telemetry{CurrentPosition: -1}.Validate(), ErrInvalidTelemetry)
	assert.ErrorIs(t, Telemetry{DroppedFrames: 5, TotalFrames: 1}.Validate(), ErrInvalidTelemetry)
}

func TestLevelForScore(t *testing.T) {
	assert.Equal(t, HealthCritical, LevelForScore(0))
	assert.Equal(t, HealthCritical, LevelForScore(29))
	assert.Equal(t, HealthWarning, LevelForScore(30))
	assert.Equal(t, HealthWarning, LevelForScore(59))
	assert.Equal(t, HealthGood, LevelForScore(60))
	assert.Equal(t, HealthGood, LevelForScore(84))
	assert.Equal(t, HealthExcellent, LevelForScore(85))
	assert.Equal(t, "warning", HealthWarning.String())
}

func TestResourceKindIsMedia(t *testing.T) {
	assert.True(t, ResourceSegment.IsMedia())
	assert.True(t, ResourceManifest.IsMedia())
	assert.True(t, ResourceInit.IsMedia())
	assert.False(t, ResourceOther.IsMedia())
	assert.False(t, ResourceKind("image").IsMedia())
}

func TestTrendText(t *testing.T) {
	b, err := TrendIncreasing.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "increasing", string(b))
	assert.Equal(t, "stable", TrendStable.String())

	var trend Trend
	require.NoError(t, trend.UnmarshalText([]byte("decreasing")))
	assert.Equal(t, TrendDecreasing, trend)
	assert.Error(t, trend.UnmarshalText([]byte("sideways")))
}

func TestHealthLevelText(t *testing.T) {
	var level HealthLevel
	require.NoError(t, level.UnmarshalText([]byte("warning")))
	assert.Equal(t, HealthWarning, level)
	assert.Error(t, level.UnmarshalText([]byte("fine")))
}
