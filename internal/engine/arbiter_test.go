package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eddie-rowe/vertical-farm-sub002/internal/models"
)

func candidate(kind models.TriggerKind, id, assignment string, priority int, createdAt time.Time) Candidate {
	return Candidate{
		Kind: kind, TriggerID: id, AssignmentID: assignment,
		Priority: priority, CreatedAt: createdAt,
	}
}

func TestArbitratePriorityWins(t *testing.T) {
	base := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	winners, losers := Arbitrate([]Candidate{
		candidate(models.KindCondition, "low", "a1", 1, base),
		candidate(models.KindCondition, "high", "a1", 9, base),
	})

	require.Len(t, winners, 1)
	assert.Equal(t, "high", winners[0].TriggerID)
	require.Len(t, losers, 1)
	assert.Equal(t, "low", losers[0].TriggerID)
	assert.Equal(t, "high", losers[0].WinnerTriggerID)
}

func TestArbitrateConditionBeatsScheduleOnEqualPriority(t *testing.T) {
	base := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	winners, losers := Arbitrate([]Candidate{
		candidate(models.KindSchedule, "sched", "a1", 5, base),
		candidate(models.KindCondition, "cond", "a1", 5, base),
	})

	require.Len(t, winners, 1)
	assert.Equal(t, "cond", winners[0].TriggerID)
	require.Len(t, losers, 1)
	assert.Equal(t, models.KindCondition, losers[0].WinnerKind)
}

func TestArbitrateCreatedAtThenIDBreaksTies(t *testing.T) {
	base := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)

	winners, _ := Arbitrate([]Candidate{
		candidate(models.KindRule, "younger", "a1", 5, base.Add(time.Hour)),
		candidate(models.KindRule, "older", "a1", 5, base),
	})
	require.Len(t, winners, 1)
	assert.Equal(t, "older", winners[0].TriggerID)

	winners, _ = Arbitrate([]Candidate{
		candidate(models.KindRule, "bbb", "a1", 5, base),
		candidate(models.KindRule, "aaa", "a1", 5, base),
	})
	require.Len(t, winners, 1)
	assert.Equal(t, "aaa", winners[0].TriggerID)
}

func TestArbitrateIndependentAssignments(t *testing.T) {
	base := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	winners, losers := Arbitrate([]Candidate{
		candidate(models.KindCondition, "c1", "a1", 5, base),
		candidate(models.KindCondition, "c2", "a2", 1, base),
	})

	assert.Len(t, winners, 2)
	assert.Empty(t, losers)
}

func TestArbitrateDeterministic(t *testing.T) {
	base := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	set := []Candidate{
		candidate(models.KindSchedule, "s1", "a1", 5, base),
		candidate(models.KindCondition, "c1", "a1", 5, base.Add(time.Minute)),
		candidate(models.KindRule, "r1", "a2", 3, base),
		candidate(models.KindRule, "r2", "a2", 3, base),
	}
	reversed := make([]Candidate, len(set))
	for i, c := range set {
		reversed[len(set)-1-i] = c
	}

	w1, l1 := Arbitrate(set)
	w2, l2 := Arbitrate(reversed)
	assert.Equal(t, w1, w2)
	assert.Equal(t, l1, l2)
}

func TestArbitrateEmpty(t *testing.T) {
	winners, losers := Arbitrate(nil)
	assert.Empty(t, winners)
	assert.Empty(t, losers)
}
