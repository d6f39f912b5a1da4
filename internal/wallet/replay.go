package wallet

import (
	"sort"
	"time"
)

// Replay rebuilds a balance from the completed entries of one user, oldest first.
func Replay(txs []Transaction) int64 {
	done := make([]Transaction, 0, len(txs))
	for _, t := range txs {
		if t.Status == StatusCompleted {
			done = append(done, t)
		}
	}
	sort.SliceStable(done, func(i, j int) bool { return completedAt(done[i]).Before(completedAt(done[j])) })

	var bal int64
	for _, t := range done {
		bal += Effect(t.Type, t.Amount)
	}
	return bal
}

// LastCompleted returns the most recently completed entry, if any.
func LastCompleted(txs []Transaction) (Transaction, bool) {
	var last Transaction
	found := false
	for _, t := range txs {
		if t.Status != StatusCompleted {
			continue
		}
		if !found || completedAt(t).After(completedAt(last)) {
			last, found = t, true
		}
	}
	return last, found
}

func completedAt(t Transaction) time.Time {
	if t.CompletedAt != nil {
		return *t.CompletedAt
	}
	return t.CreatedAt
}
