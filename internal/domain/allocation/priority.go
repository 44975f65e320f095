package allocation

import (
	"sort"
	"time"
)

type Priority string

const (
	PriorityLow    Priority = "LOW"
	PriorityNormal Priority = "NORMAL"
	PriorityHigh   Priority = "HIGH"
	PriorityUrgent Priority = "URGENT"
)

func (p Priority) Valid() bool {
	return p.Weight() > 0
}

func (p Priority) Weight() int {
	switch p {
	case PriorityLow:
		return 1
	case PriorityNormal:
		return 2
	case PriorityHigh:
		return 3
	case PriorityUrgent:
		return 4
	default:
		return 0
	}
}

const (
	scorePerWeight     = 100
	maxUrgency         = 99
	urgencyDecayPerDay = 3
	hoursPerDay        = 24
)

// PriorityScore ranks allocations: the priority band dominates and the due date
// adds up to 99 points as it approaches. Overdue requests get the full bonus.
func PriorityScore(priority Priority, dueDate *time.Time, now time.Time) int {
	score := priority.Weight() * scorePerWeight
	if dueDate == nil {
		return score
	}

	days := int(dueDate.Sub(now).Hours() / hoursPerDay)
	urgency := maxUrgency - days*urgencyDecayPerDay
	if days < 0 || urgency > maxUrgency {
		urgency = maxUrgency
	}
	if urgency < 0 {
		urgency = 0
	}
	return score + urgency
}

// Less orders allocations by who gets stock first.
func Less(a, b Allocation) bool {
	if a.PriorityScore != b.PriorityScore {
		return a.PriorityScore > b.PriorityScore
	}
	if a.Priority.Weight() != b.Priority.Weight() {
		return a.Priority.Weight() > b.Priority.Weight()
	}
	if !a.RequestedDate.Equal(b.RequestedDate) {
		return a.RequestedDate.Before(b.RequestedDate)
	}
	return a.ID < b.ID
}

func SortByPriority(allocations []Allocation) {
	sort.SliceStable(allocations, func(i, j int) bool {
		return Less(allocations[i], allocations[j])
	})
}
