package engine

import (
	"sort"

	"github.com/eddie-rowe/vertical-farm-sub002/internal/models"
)

// Lost is a candidate that lost arbitration for its device assignment.
type Lost struct {
	Candidate
	WinnerKind      models.TriggerKind
	WinnerTriggerID string
}

// kindRank orders trigger kinds on equal priority: event-driven triggers
// (conditions, rules) beat time-driven schedules.
func kindRank(k models.TriggerKind) int {
	if k == models.KindSchedule {
		return 1
	}
	return 0
}

// less is the total arbitration order: priority desc, event-driven before
// scheduled, earliest created_at, then trigger id as a final stable key.
func less(a, b Candidate) bool {
	if a.Priority != b.Priority {
		return a.Priority > b.Priority
	}
	if ra, rb := kindRank(a.Kind), kindRank(b.Kind); ra != rb {
		return ra < rb
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.TriggerID < b.TriggerID
}

// Arbitrate resolves conflicts between candidates targeting the same device
// assignment: at most one winner per assignment, the rest recorded as losers.
// The outcome is a pure function of the candidate set.
func Arbitrate(candidates []Candidate) ([]Candidate, []Lost) {
	byAssignment := make(map[string][]Candidate)
	for _, c := range candidates {
		byAssignment[c.AssignmentID] = append(byAssignment[c.AssignmentID], c)
	}

	var winners []Candidate
	var losers []Lost
	for _, group := range byAssignment {
		sort.SliceStable(group, func(i, j int) bool { return less(group[i], group[j]) })
		winner := group[0]
		winners = append(winners, winner)
		for _, c := range group[1:] {
			losers = append(losers, Lost{
				Candidate:       c,
				WinnerKind:      winner.Kind,
				WinnerTriggerID: winner.TriggerID,
			})
		}
	}

	sort.Slice(winners, func(i, j int) bool { return winners[i].AssignmentID < winners[j].AssignmentID })
	sort.Slice(losers, func(i, j int) bool {
		if losers[i].AssignmentID != losers[j].AssignmentID {
			return losers[i].AssignmentID < losers[j].AssignmentID
		}
		return losers[i].TriggerID < losers[j].TriggerID
	})
	return winners, losers
}
