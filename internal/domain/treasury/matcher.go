package treasury

import (
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/agnivade/levenshtein"
	"github.com/emirpasic/gods/trees/redblacktree"
	"github.com/google/uuid"
)

// DefaultDateToleranceDays is used when no tolerance is configured
const DefaultDateToleranceDays = 3

// MatchConfig tunes the statement matcher
type MatchConfig struct {
	DateToleranceDays int
	MaxSuggestions    int
}

// DefaultMatchConfig returns the default matcher configuration
func DefaultMatchConfig() MatchConfig {
	return MatchConfig{
		DateToleranceDays: DefaultDateToleranceDays,
		MaxSuggestions:    3,
	}
}

// Suggestion ranks a movement that could resolve a suspense line.
// Suggestions are advisory and never linked automatically.
type Suggestion struct {
	LineID     uuid.UUID `json:"line_id"`
	MovementID uuid.UUID `json:"movement_id"`
	Similarity float64   `json:"similarity"`
	DayGap     int       `json:"day_gap"`
}

// LineOutcome is the matcher verdict for one line
type LineOutcome struct {
	LineID     uuid.UUID
	Status     LineMatchStatus
	MovementID *uuid.UUID
	Candidates int
}

// MatchPlan is the full result of a matching run
type MatchPlan struct {
	Links       map[uuid.UUID]uuid.UUID // line -> movement, new links only
	Outcomes    []LineOutcome
	Suggestions []Suggestion
}

// movementIndex orders available movements by calendar day
type movementIndex struct {
	tree *redblacktree.Tree
}

func dayComparator(a, b interface{}) int {
	x := a.(int64)
	y := b.(int64)
	switch {
	case x < y:
		return -1
	case x > y:
		return 1
	default:
		return 0
	}
}

func newMovementIndex(movements []Movement) *movementIndex {
	idx := &movementIndex{tree: redblacktree.NewWith(dayComparator)}
	for i := range movements {
		m := &movements[i]
		key := dayNumber(m.Date)
		if v, found := idx.tree.Get(key); found {
			idx.tree.Put(key, append(v.([]*Movement), m))
		} else {
			idx.tree.Put(key, []*Movement{m})
		}
	}
	return idx
}

// window returns movements dated within [day-tol, day+tol] whose signed amount equals the line's
func (idx *movementIndex) window(line *StatementLine, tol int) []*Movement {
	lo := dayNumber(line.Date) - int64(tol)
	hi := dayNumber(line.Date) + int64(tol)

	var out []*Movement
	node, found := idx.tree.Ceiling(lo)
	for found {
		key := node.Key.(int64)
		if key > hi {
			break
		}
		for _, m := range node.Value.([]*Movement) {
			if m.SignedAmount().Equal(line.Amount) {
				out = append(out, m)
			}
		}
		node, found = idx.tree.Ceiling(key + 1)
	}
	return out
}

// Match pairs unmatched statement lines with available movements.
//
// A link is made only when a line has exactly one candidate and that movement
// is a candidate of no other unresolved line. Whatever still has candidates is
// suspense; lines with none stay pending. Movements already linked to a line
// of this statement are ignored.
func Match(lines []StatementLine, available []Movement, cfg MatchConfig) *MatchPlan {
	if cfg.DateToleranceDays < 0 {
		cfg.DateToleranceDays = 0
	}

	used := make(map[uuid.UUID]bool)
	for i := range lines {
		if lines[i].MatchedMovementID != nil {
			used[*lines[i].MatchedMovementID] = true
		}
	}
	free := make([]Movement, 0, len(available))
	for _, m := range available {
		if !used[m.ID] {
			free = append(free, m)
		}
	}
	idx := newMovementIndex(free)

	open := make([]*StatementLine, 0, len(lines))
	for i := range lines {
		if !lines[i].IsMatched() {
			open = append(open, &lines[i])
		}
	}
	sort.SliceStable(open, func(i, j int) bool {
		if !open[i].Date.Equal(open[j].Date) {
			return open[i].Date.Before(open[j].Date)
		}
		return open[i].LineNo < open[j].LineNo
	})

	candidates := make(map[uuid.UUID][]*Movement, len(open))
	for _, l := range open {
		candidates[l.ID] = idx.window(l, cfg.DateToleranceDays)
	}

	plan := &MatchPlan{Links: make(map[uuid.UUID]uuid.UUID)}

	claims := make(map[uuid.UUID]int)
	for _, l := range open {
		for _, m := range candidates[l.ID] {
			claims[m.ID]++
		}
	}
	for _, l := range open {
		c := candidates[l.ID]
		if len(c) != 1 || claims[c[0].ID] != 1 {
			continue
		}
		plan.Links[l.ID] = c[0].ID
		used[c[0].ID] = true
	}

	for _, l := range open {
		if movementID, ok := plan.Links[l.ID]; ok {
			id := movementID
			plan.Outcomes = append(plan.Outcomes, LineOutcome{
				LineID: l.ID, Status: LineMatchStatusMatched, MovementID: &id, Candidates: 1,
			})
			continue
		}
		live := liveCandidates(candidates[l.ID], used)
		if len(live) == 0 {
			plan.Outcomes = append(plan.Outcomes, LineOutcome{LineID: l.ID, Status: LineMatchStatusPending})
			continue
		}
		plan.Outcomes = append(plan.Outcomes, LineOutcome{
			LineID: l.ID, Status: LineMatchStatusSuspense, Candidates: len(live),
		})
		plan.Suggestions = append(plan.Suggestions, rankSuggestions(l, live, cfg.MaxSuggestions)...)
	}

	return plan
}

func liveCandidates(ms []*Movement, used map[uuid.UUID]bool) []*Movement {
	out := make([]*Movement, 0, len(ms))
	for _, m := range ms {
		if !used[m.ID] {
			out = append(out, m)
		}
	}
	return out
}

// rankSuggestions orders candidates by description similarity, then date gap
func rankSuggestions(line *StatementLine, candidates []*Movement, limit int) []Suggestion {
	out := make([]Suggestion, 0, len(candidates))
	for _, m := range candidates {
		gap := DaysBetween(line.Date, m.Date)
		if gap < 0 {
			gap = -gap
		}
		out = append(out, Suggestion{
			LineID:     line.ID,
			MovementID: m.ID,
			Similarity: similarity(line.Description, m.Description),
			DayGap:     gap,
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Similarity != out[j].Similarity {
			return out[i].Similarity > out[j].Similarity
		}
		if out[i].DayGap != out[j].DayGap {
			return out[i].DayGap < out[j].DayGap
		}
		return out[i].MovementID.String() < out[j].MovementID.String()
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// similarity is 1 - normalized edit distance of the upper-cased texts
func similarity(a, b string) float64 {
	a = strings.ToUpper(strings.TrimSpace(a))
	b = strings.ToUpper(strings.TrimSpace(b))
	longest := utf8.RuneCountInString(a)
	if n := utf8.RuneCountInString(b); n > longest {
		longest = n
	}
	if longest == 0 {
		return 0
	}
	return 1 - float64(levenshtein.ComputeDistance(a, b))/float64(longest)
}
