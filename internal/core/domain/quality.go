package domain

import (
	"fmt"
	"sort"
	"time"
)

// AutoQualityID re-enables automatic selection when passed as a manual quality.
const AutoQualityID = "auto"

// StreamQuality is one rung of the quality ladder.
type StreamQuality struct {
	ID           string `json:"id"`
	Label        string `json:"label"`
	BandwidthBps int64  `json:"bandwidth_bps"`
	Width        int    `json:"width,omitempty"`
	Height       int    `json:"height,omitempty"`
}

func (q StreamQuality) Resolution() string {
	if q.Width == 0 || q.Height == 0 {
		return ""
	}
	return fmt.Sprintf("%dx%d", q.Width, q.Height)
}

// Ladder is an immutable list of renditions ordered by ascending bandwidth.
type Ladder struct {
	rungs []StreamQuality
}

// NewLadder validates and sorts a copy of qualities. An empty input yields
// an empty ladder.
func NewLadder(qualities []StreamQuality) (Ladder, error) {
	rungs := make([]StreamQuality, len(qualities))
	copy(rungs, qualities)

	seen := make(map[string]struct{}, len(rungs))
	for _, q := range rungs {
		if q.ID == "" || q.ID == AutoQualityID {
			return Ladder{}, fmt.Errorf("%w: reserved or empty id %q", ErrInvalidLadder, q.ID)
		}
		if q.BandwidthBps <= 0 {
			return Ladder{}, fmt.Errorf("%w: %s has non-positive bandwidth", ErrInvalidLadder, q.ID)
		}
		if _, dup := seen[q.ID]; dup {
			return Ladder{}, fmt.Errorf("%w: duplicate id %s", ErrInvalidLadder, q.ID)
		}
		seen[q.ID] = struct{}{}
	}

	sort.SliceStable(rungs, func(i, j int) bool {
		return rungs[i].BandwidthBps < rungs[j].BandwidthBps
	})
	return Ladder{rungs: rungs}, nil
}

func (l Ladder) Len() int { return len(l.rungs) }

func (l Ladder) Empty() bool { return len(l.rungs) == 0 }

// Rungs returns a copy of the ladder in ascending order.
func (l Ladder) Rungs() []StreamQuality {
	out := make([]StreamQuality, len(l.rungs))
	copy(out, l.rungs)
	return out
}

func (l Ladder) Find(id string) (StreamQuality, bool) {
	for _, q := range l.rungs {
		if q.ID == id {
			return q, true
		}
	}
	return StreamQuality{}, false
}

// Select returns the highest rung whose requirement does not exceed
// targetBps, or the lowest rung if none qualifies. The ladder must not be
// empty.
func (l Ladder) Select(targetBps float64) StreamQuality {
	best := l.rungs[0]
	for _, q := range l.rungs {
		if float64(q.BandwidthBps) <= targetBps {
			best = q
		}
	}
	return best
}

// ABRState is the adaptation state of one session.
type ABRState struct {
	CurrentQuality *StreamQuality `json:"current_quality,omitempty"`
	TargetQuality  *StreamQuality `json:"target_quality,omitempty"`
	IsAdapting     bool           `json:"is_adapting"`
	Reason         string         `json:"reason"`
	SwitchCount    uint32         `json:"switch_count"`
	Manual         bool           `json:"manual"`
	LastSwitchAt   time.Time      `json:"last_switch_at,omitempty"`
}
