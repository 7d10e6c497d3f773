package treasury

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLine(no int, on time.Time, amount, desc string) StatementLine {
	return StatementLine{
		ID:          uuid.New(),
		LineNo:      no,
		Date:        on,
		Amount:      d(amount),
		Description: desc,
		MatchStatus: LineMatchStatusPending,
	}
}

func testMovement(t *testing.T, accountID uuid.UUID, on time.Time, amount string, dir Direction, desc string) Movement {
	t.Helper()
	m, err := NewMovement(uuid.New(), accountID, on, d(amount), dir, Reference{Type: ReferenceTypeManual}, desc, "")
	require.NoError(t, err)
	return *m
}

func outcomeFor(plan *MatchPlan, lineID uuid.UUID) LineOutcome {
	for _, o := range plan.Outcomes {
		if o.LineID == lineID {
			return o
		}
	}
	return LineOutcome{}
}

func TestMatch_UniqueCandidateLinks(t *testing.T) {
	acc := uuid.New()
	in := testMovement(t, acc, date(2024, 4, 2), "150", DirectionIn, "Deposit")
	out := testMovement(t, acc, date(2024, 4, 5), "40", DirectionOut, "Fee")
	lines := []StatementLine{
		testLine(1, date(2024, 4, 3), "150", "DEPOSIT"),
		testLine(2, date(2024, 4, 5), "-40", "FEE"),
	}

	plan := Match(lines, []Movement{in, out}, DefaultMatchConfig())

	assert.Equal(t, in.ID, plan.Links[lines[0].ID])
	assert.Equal(t, out.ID, plan.Links[lines[1].ID])
	assert.Empty(t, plan.Suggestions)
}

func TestMatch_SignMustAgree(t *testing.T) {
	acc := uuid.New()
	out := testMovement(t, acc, date(2024, 4, 2), "150", DirectionOut, "")
	lines := []StatementLine{testLine(1, date(2024, 4, 2), "150", "")}

	plan := Match(lines, []Movement{out}, DefaultMatchConfig())

	assert.Empty(t, plan.Links)
	assert.Equal(t, LineMatchStatusPending, outcomeFor(plan, lines[0].ID).Status)
}

func TestMatch_AmbiguousGoesToSuspense(t *testing.T) {
	acc := uuid.New()
	m1 := testMovement(t, acc, date(2024, 4, 2), "100", DirectionIn, "Transfer from ACME")
	m2 := testMovement(t, acc, date(2024, 4, 3), "100", DirectionIn, "Cash sale")
	lines := []StatementLine{testLine(1, date(2024, 4, 2), "100", "TRANSFER ACME")}

	plan := Match(lines, []Movement{m1, m2}, DefaultMatchConfig())

	assert.Empty(t, plan.Links)
	o := outcomeFor(plan, lines[0].ID)
	assert.Equal(t, LineMatchStatusSuspense, o.Status)
	assert.Equal(t, 2, o.Candidates)
	require.Len(t, plan.Suggestions, 2)
	assert.Equal(t, m1.ID, plan.Suggestions[0].MovementID, "closer description ranks first")
	assert.Greater(t, plan.Suggestions[0].Similarity, plan.Suggestions[1].Similarity)
}

func TestMatch_TwoLinesOneMovement(t *testing.T) {
	acc := uuid.New()
	m := testMovement(t, acc, date(2024, 4, 2), "75", DirectionIn, "")
	lines := []StatementLine{
		testLine(1, date(2024, 4, 1), "75", ""),
		testLine(2, date(2024, 4, 3), "75", ""),
	}

	plan := Match(lines, []Movement{m}, DefaultMatchConfig())

	assert.Empty(t, plan.Links, "a movement claimed by two lines is ambiguous")
	assert.Equal(t, LineMatchStatusSuspense, outcomeFor(plan, lines[0].ID).Status)
	assert.Equal(t, LineMatchStatusSuspense, outcomeFor(plan, lines[1].ID).Status)
}

func TestMatch_SharedCandidateBlocksUniqueLine(t *testing.T) {
	acc := uuid.New()
	m1 := testMovement(t, acc, date(2024, 4, 1), "20", DirectionIn, "")
	m2 := testMovement(t, acc, date(2024, 4, 7), "20", DirectionIn, "")
	m3 := testMovement(t, acc, date(2024, 4, 20), "35", DirectionIn, "")
	lines := []StatementLine{
		testLine(1, date(2024, 3, 29), "20", ""), // sees m1
		testLine(2, date(2024, 4, 4), "20", ""),  // sees m1 and m2
		testLine(3, date(2024, 4, 20), "35", ""), // sees m3
	}

	plan := Match(lines, []Movement{m1, m2, m3}, DefaultMatchConfig())

	require.Len(t, plan.Links, 1)
	assert.Equal(t, m3.ID, plan.Links[lines[2].ID])
	assert.Equal(t, LineMatchStatusSuspense, outcomeFor(plan, lines[0].ID).Status)
	assert.Equal(t, LineMatchStatusSuspense, outcomeFor(plan, lines[1].ID).Status)
	assert.Equal(t, 2, outcomeFor(plan, lines[1].ID).Candidates)
}

func TestMatch_ToleranceWindow(t *testing.T) {
	acc := uuid.New()
	m := testMovement(t, acc, date(2024, 4, 10), "10", DirectionIn, "")

	inside := []StatementLine{testLine(1, date(2024, 4, 7), "10", "")}
	plan := Match(inside, []Movement{m}, DefaultMatchConfig())
	assert.Len(t, plan.Links, 1)

	outside := []StatementLine{testLine(1, date(2024, 4, 6), "10", "")}
	plan = Match(outside, []Movement{m}, DefaultMatchConfig())
	assert.Empty(t, plan.Links)

	plan = Match(outside, []Movement{m}, MatchConfig{DateToleranceDays: 4})
	assert.Len(t, plan.Links, 1)
}

func TestMatch_RerunIsIdempotent(t *testing.T) {
	acc := uuid.New()
	m := testMovement(t, acc, date(2024, 4, 2), "150", DirectionIn, "")
	lines := []StatementLine{
		testLine(1, date(2024, 4, 2), "150", ""),
		testLine(2, date(2024, 4, 2), "150", ""),
	}
	movementID := m.ID
	lines[0].MatchStatus = LineMatchStatusMatched
	lines[0].MatchedMovementID = &movementID

	plan := Match(lines, []Movement{m}, DefaultMatchConfig())

	assert.Empty(t, plan.Links, "already linked movement is never offered again")
	assert.Equal(t, LineMatchStatusPending, outcomeFor(plan, lines[1].ID).Status)
	assert.Len(t, plan.Outcomes, 1, "matched lines are not re-evaluated")
}

func TestSimilarity(t *testing.T) {
	assert.Equal(t, 1.0, similarity("Deposit", "DEPOSIT"))
	assert.Equal(t, 0.0, similarity("", ""))
	assert.InDelta(t, 0.75, similarity("ABCD", "ABCX"), 1e-9)
}
