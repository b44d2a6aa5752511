// Package allocator holds the pure FIFO allocation rules of the stock
// ledger. Nothing here touches storage: callers pass the candidate batches
// and apply the returned lines themselves.
package allocator

import (
	"cmp"
	"slices"
	"time"

	"github.com/lotledger/lotledger-backend/internal/stock/domain"
)

// Line is a positive quantity moved on one batch
type Line struct {
	BatchID string
	Qty     int
}

// Ordered returns a copy of batches in consumption order: earliest expiry
// first with undated lots last, then oldest lot first. ID breaks remaining
// ties so the order is deterministic.
func Ordered(batches []domain.Batch) []domain.Batch {
	out := slices.Clone(batches)
	slices.SortStableFunc(out, compareBatches)
	return out
}

// ExpiredBefore keeps the batches whose expiry date falls before asOf's
// calendar day (UTC). Undated batches never expire.
func ExpiredBefore(batches []domain.Batch, asOf time.Time) []domain.Batch {
	day := asOf.UTC().Truncate(24 * time.Hour)
	out := make([]domain.Batch, 0, len(batches))
	for _, b := range batches {
		if b.ExpiryDate != nil && b.ExpiryDate.Before(day) {
			out = append(out, b)
		}
	}
	return out
}

func compareBatches(a, b domain.Batch) int {
	switch {
	case a.ExpiryDate == nil && b.ExpiryDate != nil:
		return 1
	case a.ExpiryDate != nil && b.ExpiryDate == nil:
		return -1
	case a.ExpiryDate != nil && b.ExpiryDate != nil:
		if c := a.ExpiryDate.Compare(*b.ExpiryDate); c != 0 {
			return c
		}
	}
	if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
		return c
	}
	return cmp.Compare(a.ID, b.ID)
}

// Addition is the outcome of adding stock into a single target batch
type Addition struct {
	Requested int
	Applied   int
	Remaining int
	Outcome   domain.Outcome
}

// Add clamps requested to headroom. A headroom of zero or less rejects
// the addition outright.
func Add(headroom, requested int) Addition {
	if headroom <= 0 || requested <= 0 {
		return Addition{Requested: requested, Remaining: requested, Outcome: domain.OutcomeRejected}
	}
	applied := min(requested, headroom)
	a := Addition{
		Requested: requested,
		Applied:   applied,
		Remaining: requested - applied,
		Outcome:   domain.OutcomeFulfilled,
	}
	if a.Remaining > 0 {
		a.Outcome = domain.OutcomePartiallyFulfilled
	}
	return a
}

// Deduction is a FIFO consumption plan
type Deduction struct {
	Lines     []Line
	Requested int
	Applied   int
	Remaining int
	// Available is the total quantity of the candidate set
	Available int
}

// Outcome classifies the plan. Whether a partial plan is acceptable is the
// caller's decision.
func (d Deduction) Outcome() domain.Outcome {
	switch {
	case d.Applied == 0:
		return domain.OutcomeRejected
	case d.Remaining > 0:
		return domain.OutcomePartiallyFulfilled
	default:
		return domain.OutcomeFulfilled
	}
}

// Deduct walks batches in FIFO order taking min(batch, remaining) from each
// until the request is met or the candidates run out. Empty batches are
// skipped. Running out is reported through Remaining, not as an error.
func Deduct(batches []domain.Batch, requested int) Deduction {
	d := Deduction{Requested: requested, Remaining: requested}

	for _, b := range Ordered(batches) {
		if b.Quantity <= 0 {
			continue
		}
		d.Available += b.Quantity
		if d.Remaining == 0 {
			continue
		}
		take := min(b.Quantity, d.Remaining)
		d.Lines = append(d.Lines, Line{BatchID: b.ID, Qty: take})
		d.Applied += take
		d.Remaining -= take
	}

	return d
}
