package trending

import (
	"math"
	"time"
)

// Heuristic thresholds of the trending score.
const (
	// Half-lives shorter than this penalise page views instead of rewarding them.
	shortHorizonHours = 84.0

	minNamedEditors      = 2
	editWarRatio         = 0.4
	revertNoiseRatio     = 0.46
	smallEditSet         = 20
	smallByteDelta       = 1000
	insignificantBytes   = 200
	burstSpeed           = 0.9
	burstEdits           = 12
	floodWindowMinutes   = 20
	floodEdits           = 10
	floodRatio           = 0.35
	floodAnonEdits       = 5
	flaggedEditPenalty   = -4.0
	anonEditWeight       = 0.2
	contributorsBaseline = 3.0
)

// Sentinel scores returned by the guard clauses.
const (
	ScoreTooFewEditors = -2.0
	ScoreNoise         = -1.0
	ScoreSuppressed    = 0.0
)

// ComputeScore returns the trending score of a page snapshot at instant now,
// decayed with the given half-life in hours. Larger is hotter; zero and the
// negative sentinels mark pages suppressed by a guard clause.
func ComputeScore(now time.Time, s EditSnapshot, halfLifeHours float64) float64 {
	return Evaluate(now, s, halfLifeHours).Score
}

// Evaluate computes the same score as ComputeScore and reports the intermediates.
func Evaluate(now time.Time, s EditSnapshot, halfLifeHours float64) Result {
	contributors := s.NumberContributors
	if contributors == 0 {
		contributors = 1
	}

	edits := float64(s.Edits)
	anonEdits := float64(s.AnonEdits)
	reverts := float64(s.Reverts)

	var r Result
	r.AgeMinutes = AgeMinutes(now, s.Start)
	r.Decay = HalfLifeDecay(r.AgeMinutes, halfLifeHours)

	if s.Views > 0 {
		r.VisitScore = float64(s.Views)
		if halfLifeHours < shortHorizonHours {
			r.VisitScore = -r.VisitScore
		}
	}

	r.NamedEdits = edits - anonEdits - reverts/2
	r.EditScore = flaggedEditPenalty*float64(s.FlaggedEdits) + r.NamedEdits + anonEditWeight*anonEdits
	r.ContributionScore = (float64(contributors) - contributorsBaseline) / 2
	r.Speed = edits / r.AgeMinutes
	r.NamedEditors, r.AnonEditors = ClassifyEditors(s.Distribution)
	r.RatioAnonsToNamed = namedToAnonRatio(r.NamedEditors, r.AnonEditors)
	r.Bias = EstimateBias(s.Distribution)

	switch {
	case r.NamedEditors < minNamedEditors:
		return r.decided(ScoreTooFewEditors, VerdictTooFewNamedEditors)
	case s.Reverts > 0 && r.RatioAnonsToNamed < editWarRatio:
		return r.decided(ScoreSuppressed, VerdictAnonymousEditWar)
	case s.Reverts > 1 && (reverts/edits > revertNoiseRatio ||
		(s.BytesChanged != nil && s.Edits < smallEditSet && *s.BytesChanged < smallByteDelta)):
		return r.decided(ScoreNoise, VerdictRevertNoise)
	}

	score := r.ContributionScore * (r.VisitScore + r.EditScore) * r.Decay

	if s.BytesChanged != nil {
		b := float64(*s.BytesChanged)
		r.ByteScore = math.Abs(b / (edits / float64(contributors)))
		if b == 0 || (b > -insignificantBytes && b < insignificantBytes) {
			return r.decided(ScoreNoise, VerdictInsignificantBytes)
		}
	}

	r.Verdict = VerdictScored
	if s.IsNew {
		score *= (edits * 2) / (r.AgeMinutes / 30)
		if r.Speed > burstSpeed && s.Edits < burstEdits {
			score = ScoreSuppressed
			r.Verdict = VerdictNewPageBurst
		}
	} else if r.AgeMinutes < floodWindowMinutes &&
		(s.Edits < floodEdits || r.NamedEdits == 0 || r.RatioAnonsToNamed < floodRatio) &&
		s.AnonEdits > floodAnonEdits {
		score = ScoreSuppressed
		r.Verdict = VerdictAnonymousFlood
	}

	if r.Bias > 0 {
		score *= 1 - r.Bias
	}
	r.Score = score
	return r
}

func (r Result) decided(score float64, v Verdict) Result {
	r.Score = score
	r.Verdict = v
	return r
}

// namedToAnonRatio divides named by anonymous editors. With no anonymous editors
// it is +Inf, which never falls below the edit-war and flood thresholds.
func namedToAnonRatio(named, anon int) float64 {
	switch {
	case named == 0:
		return 0
	case anon == 0:
		return math.Inf(1)
	default:
		return float64(named) / float64(anon)
	}
}
