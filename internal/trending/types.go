package trending

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

// Distribution maps an editor identifier to the number of edits that editor made.
type Distribution map[string]int

// EditSnapshot holds the edit statistics of a page at the moment it is scored.
type EditSnapshot struct {
	Start              time.Time
	Views              int
	Edits              int
	AnonEdits          int
	Reverts            int
	FlaggedEdits       int
	BytesChanged       *int // nil when the byte delta is unknown
	NumberContributors int
	Distribution       Distribution
	IsNew              bool
}

// Bytes returns a pointer suitable for EditSnapshot.BytesChanged.
func Bytes(n int) *int { return &n }

var (
	ErrMissingEdits = errors.New("snapshot: edits is required")
	ErrMissingStart = errors.New("snapshot: start is required")
	ErrInvalidStart = errors.New("snapshot: start must be an ISO-8601 timestamp or unix milliseconds")
)

type snapshotJSON struct {
	Start              *Timestamp   `json:"start"`
	Views              int          `json:"views,omitempty"`
	Edits              *int         `json:"edits"`
	AnonEdits          int          `json:"anonEdits,omitempty"`
	Reverts            int          `json:"reverts,omitempty"`
	FlaggedEdits       int          `json:"flaggedEdits,omitempty"`
	BytesChanged       *int         `json:"bytesChanged,omitempty"`
	NumberContributors int          `json:"numberContributors,omitempty"`
	Distribution       Distribution `json:"distribution"`
	IsNew              bool         `json:"isNew,omitempty"`
}

// UnmarshalJSON decodes a snapshot and rejects payloads without edits or start.
func (s *EditSnapshot) UnmarshalJSON(data []byte) error {
	var raw snapshotJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if raw.Edits == nil {
		return ErrMissingEdits
	}
	if raw.Start == nil {
		return ErrMissingStart
	}

	*s = EditSnapshot{
		Start:              raw.Start.Time,
		Views:              raw.Views,
		Edits:              *raw.Edits,
		AnonEdits:          raw.AnonEdits,
		Reverts:            raw.Reverts,
		FlaggedEdits:       raw.FlaggedEdits,
		BytesChanged:       raw.BytesChanged,
		NumberContributors: raw.NumberContributors,
		Distribution:       raw.Distribution,
		IsNew:              raw.IsNew,
	}
	return nil
}

// MarshalJSON encodes the snapshot with an RFC 3339 start.
func (s EditSnapshot) MarshalJSON() ([]byte, error) {
	edits := s.Edits
	return json.Marshal(snapshotJSON{
		Start:              &Timestamp{Time: s.Start},
		Views:              s.Views,
		Edits:              &edits,
		AnonEdits:          s.AnonEdits,
		Reverts:            s.Reverts,
		FlaggedEdits:       s.FlaggedEdits,
		BytesChanged:       s.BytesChanged,
		NumberContributors: s.NumberContributors,
		Distribution:       s.Distribution,
		IsNew:              s.IsNew,
	})
}

// Timestamp accepts either an ISO-8601 string or unix milliseconds in JSON.
type Timestamp struct {
	time.Time
}

// ParseTimestamp parses the textual timestamp forms accepted for a snapshot start.
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidStart, s)
}

func (t *Timestamp) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		parsed, err := ParseTimestamp(s)
		if err != nil {
			return err
		}
		t.Time = parsed
		return nil
	}

	var ms float64
	if err := json.Unmarshal(data, &ms); err != nil {
		return ErrInvalidStart
	}
	if math.IsNaN(ms) || math.IsInf(ms, 0) {
		return ErrInvalidStart
	}
	t.Time = time.UnixMilli(int64(ms)).UTC()
	return nil
}

func (t Timestamp) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.Time.UTC().Format(time.RFC3339Nano))
}

// Verdict names the branch of the scoring heuristic that produced a result.
type Verdict string

const (
	VerdictScored             Verdict = "scored"
	VerdictTooFewNamedEditors Verdict = "too_few_named_editors"
	VerdictAnonymousEditWar   Verdict = "anonymous_edit_war"
	VerdictRevertNoise        Verdict = "revert_noise"
	VerdictInsignificantBytes Verdict = "insignificant_bytes"
	VerdictNewPageBurst       Verdict = "new_page_burst"
	VerdictAnonymousFlood     Verdict = "anonymous_flood"
)

// Result is a score together with the intermediates that produced it.
type Result struct {
	Score             float64 `json:"score"`
	Verdict           Verdict `json:"verdict"`
	AgeMinutes        float64 `json:"ageMinutes"`
	Decay             float64 `json:"decay"`
	VisitScore        float64 `json:"visitScore"`
	EditScore         float64 `json:"editScore"`
	ContributionScore float64 `json:"contributionScore"`
	Speed             float64 `json:"speed"`
	NamedEdits        float64 `json:"namedEdits"`
	NamedEditors      int     `json:"namedEditors"`
	AnonEditors       int     `json:"anonEditors"`
	RatioAnonsToNamed float64 `json:"ratioAnonsToNamed"`
	ByteScore         float64 `json:"byteScore,omitempty"`
	Bias              float64 `json:"bias"`
}

// Trending reports whether the page scored above zero.
func (r Result) Trending() bool { return r.Score > 0 }

// Available reports whether the score is a finite number.
func (r Result) Available() bool {
	return !math.IsNaN(r.Score) && !math.IsInf(r.Score, 0)
}

// MarshalJSON replaces non-finite floats, which encoding/json rejects, with null.
func (r Result) MarshalJSON() ([]byte, error) {
	type alias Result
	out := struct {
		alias
		Score             *float64 `json:"score"`
		AgeMinutes        *float64 `json:"ageMinutes"`
		Decay             *float64 `json:"decay"`
		Speed             *float64 `json:"speed"`
		RatioAnonsToNamed *float64 `json:"ratioAnonsToNamed"`
		ByteScore         *float64 `json:"byteScore,omitempty"`
		Available         bool     `json:"available"`
	}{
		alias:             alias(r),
		Score:             finite(r.Score),
		AgeMinutes:        finite(r.AgeMinutes),
		Decay:             finite(r.Decay),
		Speed:             finite(r.Speed),
		RatioAnonsToNamed: finite(r.RatioAnonsToNamed),
		Available:         r.Available(),
	}
	if r.ByteScore != 0 {
		out.ByteScore = finite(r.ByteScore)
	}
	return json.Marshal(out)
}

func finite(f float64) *float64 {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	return &f
}
