package trending

import (
	"encoding/json"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var refNow = time.Date(2016, 11, 20, 12, 0, 0, 0, time.UTC)

// steadySnapshot passes every guard clause and scores above zero.
func steadySnapshot() EditSnapshot {
	return EditSnapshot{
		Start:              refNow.Add(-2 * time.Hour),
		Edits:              20,
		NumberContributors: 5,
		Distribution:       Distribution{"Alice": 6, "Bob": 7, "Carol": 7},
	}
}

func TestComputeScore_MinimalSnapshot(t *testing.T) {
	s := EditSnapshot{
		Start:        refNow,
		Edits:        10,
		Distribution: Distribution{"a": 5, "b": 5},
	}

	score := ComputeScore(refNow, s, 72)
	assert.False(t, math.IsNaN(score) || math.IsInf(score, 0))
	// one contributor by default: (1-3)/2 * 10 edits
	assert.InDelta(t, -10.0, score, 1e-9)
}

func TestComputeScore_GuardClauses(t *testing.T) {
	tests := []struct {
		name            string
		mutate          func(s *EditSnapshot)
		expectedScore   float64
		expectedVerdict Verdict
	}{
		{
			name: "zero bytes changed is noise",
			mutate: func(s *EditSnapshot) {
				s.BytesChanged = Bytes(0)
			},
			expectedScore:   -1,
			expectedVerdict: VerdictInsignificantBytes,
		},
		{
			name: "small positive byte delta is noise",
			mutate: func(s *EditSnapshot) {
				s.BytesChanged = Bytes(199)
			},
			expectedScore:   -1,
			expectedVerdict: VerdictInsignificantBytes,
		},
		{
			name: "small negative byte delta is noise",
			mutate: func(s *EditSnapshot) {
				s.BytesChanged = Bytes(-150)
			},
			expectedScore:   -1,
			expectedVerdict: VerdictInsignificantBytes,
		},
		{
			name: "single named editor",
			mutate: func(s *EditSnapshot) {
				s.Distribution = Distribution{"Alice": 20}
			},
			expectedScore:   -2,
			expectedVerdict: VerdictTooFewNamedEditors,
		},
		{
			name: "named editor plus anonymous editors",
			mutate: func(s *EditSnapshot) {
				s.Distribution = Distribution{"Alice": 10, "10.0.0.1": 5, "2001:db8::1": 5}
			},
			expectedScore:   -2,
			expectedVerdict: VerdictTooFewNamedEditors,
		},
		{
			name: "reverts with an anonymous majority",
			mutate: func(s *EditSnapshot) {
				s.Reverts = 1
				s.Distribution = Distribution{
					"Alice": 4, "Bob": 4,
					"10.0.0.1": 3, "10.0.0.2": 3, "10.0.0.3": 3,
					"10.0.0.4": 3, "10.0.0.5": 3, "10.0.0.6": 3,
				}
			},
			expectedScore:   0,
			expectedVerdict: VerdictAnonymousEditWar,
		},
		{
			name: "high revert ratio",
			mutate: func(s *EditSnapshot) {
				s.Reverts = 10
			},
			expectedScore:   -1,
			expectedVerdict: VerdictRevertNoise,
		},
		{
			name: "repeated reverts on a small low-impact edit set",
			mutate: func(s *EditSnapshot) {
				s.Edits = 12
				s.Reverts = 2
				s.BytesChanged = Bytes(900)
			},
			expectedScore:   -1,
			expectedVerdict: VerdictRevertNoise,
		},
		{
			name: "bursty new page",
			mutate: func(s *EditSnapshot) {
				s.IsNew = true
				s.Edits = 10
				s.Start = refNow.Add(-5 * time.Minute)
			},
			expectedScore:   0,
			expectedVerdict: VerdictNewPageBurst,
		},
		{
			name: "early anonymous flood",
			mutate: func(s *EditSnapshot) {
				s.Start = refNow.Add(-10 * time.Minute)
				s.Edits = 9
				s.AnonEdits = 6
			},
			expectedScore:   0,
			expectedVerdict: VerdictAnonymousFlood,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := steadySnapshot()
			tt.mutate(&s)

			r := Evaluate(refNow, s, 24)
			assert.Equal(t, tt.expectedScore, r.Score)
			assert.Equal(t, tt.expectedVerdict, r.Verdict)
			assert.Equal(t, r.Score, ComputeScore(refNow, s, 24))
		})
	}
}

func TestComputeScore_GuardOrder(t *testing.T) {
	// too few named editors wins over every later guard
	s := steadySnapshot()
	s.Distribution = Distribution{"Alice": 3}
	s.Reverts = 15
	s.BytesChanged = Bytes(0)
	assert.Equal(t, -2.0, ComputeScore(refNow, s, 24))

	// revert noise is decided before the byte threshold
	s = steadySnapshot()
	s.Reverts = 12
	s.BytesChanged = Bytes(50)
	assert.Equal(t, VerdictRevertNoise, Evaluate(refNow, s, 24).Verdict)
}

func TestComputeScore_LargeByteDeltaKeepsScore(t *testing.T) {
	s := steadySnapshot()
	base := ComputeScore(refNow, s, 24)

	for _, delta := range []int{200, -200, 5000, -12000} {
		s.BytesChanged = Bytes(delta)
		r := Evaluate(refNow, s, 24)
		assert.Equal(t, VerdictScored, r.Verdict, "delta %d", delta)
		assert.InDelta(t, base, r.Score, 1e-9, "byte score must not scale the result")
		assert.InDelta(t, math.Abs(float64(delta))/4, r.ByteScore, 1e-9)
	}
}

func TestComputeScore_MoreContributorsScoreHigher(t *testing.T) {
	fewer := steadySnapshot()
	more := steadySnapshot()
	more.NumberContributors = fewer.NumberContributors + 1

	for _, hl := range []float64{1.5, 24, 84} {
		assert.Greater(t, ComputeScore(refNow, more, hl), ComputeScore(refNow, fewer, hl), "half-life %v", hl)
	}
}

func TestComputeScore_DecaysWithAge(t *testing.T) {
	s := steadySnapshot()

	for _, hl := range []float64{1, 12, 84} {
		prev := math.Inf(1)
		for _, age := range []time.Duration{30 * time.Minute, time.Hour, 6 * time.Hour, 48 * time.Hour} {
			score := ComputeScore(s.Start.Add(age), s, hl)
			assert.Less(t, score, prev, "half-life %v age %v", hl, age)
			prev = score
		}
	}
}

func TestComputeScore_HalfLife(t *testing.T) {
	s := steadySnapshot()
	s.Start = refNow.Add(-24 * time.Hour)

	r := Evaluate(refNow, s, 24)
	assert.InDelta(t, 0.5, r.Decay, 1e-12)
	assert.InDelta(t, 24*60, r.AgeMinutes, 1e-9)
}

func TestComputeScore_ViewsDependOnHorizon(t *testing.T) {
	s := steadySnapshot()
	s.Views = 5000

	short := Evaluate(refNow, s, 24)
	long := Evaluate(refNow, s, 84)

	assert.Equal(t, -5000.0, short.VisitScore)
	assert.Equal(t, 5000.0, long.VisitScore)
	assert.Less(t, short.Score, 0.0)
	assert.Greater(t, long.Score, 0.0)
}

func TestComputeScore_FlaggedEditsPenalise(t *testing.T) {
	clean := steadySnapshot()
	flagged := steadySnapshot()
	flagged.FlaggedEdits = 2

	r := Evaluate(refNow, flagged, 24)
	assert.InDelta(t, 12.0, r.EditScore, 1e-12)
	assert.Less(t, r.Score, ComputeScore(refNow, clean, 24))
}

func TestEvaluate_RatioWithoutAnonymousEditors(t *testing.T) {
	r := Evaluate(refNow, steadySnapshot(), 24)
	assert.True(t, math.IsInf(r.RatioAnonsToNamed, 1))
	assert.Equal(t, 3, r.NamedEditors)
	assert.Equal(t, 0, r.AnonEditors)
	assert.Equal(t, VerdictScored, r.Verdict)
	assert.True(t, r.Trending())
	assert.True(t, r.Available())
}

func TestEvaluate_NewPageMultiplier(t *testing.T) {
	s := steadySnapshot()
	old := Evaluate(refNow, s, 24)

	s.IsNew = true
	fresh := Evaluate(refNow, s, 24)

	// 20 edits over 120 minutes: (20*2)/(120/30) = 10
	assert.InDelta(t, old.Score*10, fresh.Score, 1e-9)
	assert.Equal(t, VerdictScored, fresh.Verdict)
}

func TestEvaluate_BiasDampening(t *testing.T) {
	even := steadySnapshot()
	even.Distribution = Distribution{"Alice": 5, "Bob": 5}
	skewed := steadySnapshot()
	skewed.Distribution = Distribution{"Alice": 1, "Bob": 9}

	e := Evaluate(refNow, even, 24)
	k := Evaluate(refNow, skewed, 24)
	assert.Equal(t, 0.0, e.Bias)
	assert.InDelta(t, 0.5, k.Bias, 1e-12)
	assert.InDelta(t, e.Score*0.5, k.Score, 1e-9)
}

func TestComputeScore_ConcurrentUse(t *testing.T) {
	s := steadySnapshot()
	want := ComputeScore(refNow, s, 24)

	var wg sync.WaitGroup
	results := make([]float64, 32)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = ComputeScore(refNow, s, 24)
		}(i)
	}
	wg.Wait()

	for _, got := range results {
		assert.Equal(t, want, got)
	}
}

func TestEditSnapshot_UnmarshalJSON(t *testing.T) {
	t.Run("iso start and optional fields", func(t *testing.T) {
		var s EditSnapshot
		err := json.Unmarshal([]byte(`{
			"start": "2016-10-13T15:04:47.853Z",
			"edits": 60,
			"reverts": 13,
			"distribution": {"a": 1, "b": 13}
		}`), &s)
		require.NoError(t, err)

		assert.True(t, time.Date(2016, 10, 13, 15, 4, 47, 853000000, time.UTC).Equal(s.Start))
		assert.Equal(t, 60, s.Edits)
		assert.Equal(t, 13, s.Reverts)
		assert.Nil(t, s.BytesChanged)
		assert.Equal(t, 0, s.NumberContributors)
		assert.Equal(t, Distribution{"a": 1, "b": 13}, s.Distribution)
	})

	t.Run("unix millisecond start", func(t *testing.T) {
		var s EditSnapshot
		require.NoError(t, json.Unmarshal([]byte(`{"start": 1476371087853, "edits": 3}`), &s))
		assert.Equal(t, int64(1476371087853), s.Start.UnixMilli())
	})

	t.Run("explicit zero bytes is kept", func(t *testing.T) {
		var s EditSnapshot
		require.NoError(t, json.Unmarshal([]byte(`{"start": "2016-10-13T15:04:47Z", "edits": 3, "bytesChanged": 0}`), &s))
		require.NotNil(t, s.BytesChanged)
		assert.Equal(t, 0, *s.BytesChanged)
	})

	t.Run("missing edits", func(t *testing.T) {
		var s EditSnapshot
		err := json.Unmarshal([]byte(`{"start": "2016-10-13T15:04:47Z"}`), &s)
		assert.ErrorIs(t, err, ErrMissingEdits)
	})

	t.Run("missing start", func(t *testing.T) {
		var s EditSnapshot
		err := json.Unmarshal([]byte(`{"edits": 4}`), &s)
		assert.ErrorIs(t, err, ErrMissingStart)
	})

	t.Run("unparseable start", func(t *testing.T) {
		var s EditSnapshot
		err := json.Unmarshal([]byte(`{"edits": 4, "start": "last tuesday"}`), &s)
		assert.ErrorIs(t, err, ErrInvalidStart)
	})
}

func TestEditSnapshot_RoundTrip(t *testing.T) {
	in := steadySnapshot()
	in.BytesChanged = Bytes(-640)
	in.IsNew = true

	data, err := json.Marshal(in)
	require.NoError(t, err)

	var out EditSnapshot
	require.NoError(t, json.Unmarshal(data, &out))
	assert.True(t, in.Start.Equal(out.Start))
	assert.Equal(t, in.Edits, out.Edits)
	assert.Equal(t, -640, *out.BytesChanged)
	assert.Equal(t, in.Distribution, out.Distribution)
	assert.True(t, out.IsNew)
}

func TestResult_MarshalJSON(t *testing.T) {
	r := Evaluate(refNow, steadySnapshot(), 24)

	data, err := json.Marshal(r)
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "scored", decoded["verdict"])
	assert.Nil(t, decoded["ratioAnonsToNamed"])
	assert.Equal(t, true, decoded["available"])
	assert.InDelta(t, r.Score, decoded["score"], 1e-9)
	assert.NotContains(t, decoded, "byteScore")
}
