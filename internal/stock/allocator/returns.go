package allocator

import "github.com/lotledger/lotledger-backend/internal/stock/domain"

// Origin is a batch a returned order item was originally sold from, with
// how much may still come back to it
type Origin struct {
	BatchID    string
	Returnable int
}

// OriginsFromHistory derives return origins from the movement history of
// one order item. Records must be in the order they were written. Batches
// keep the order of their first sale; net sold quantity is Sale minus
// Return, and fully returned batches are dropped.
func OriginsFromHistory(records []domain.MovementRecord) []Origin {
	var order []string
	net := map[string]int{}

	for _, r := range records {
		switch r.Kind {
		case domain.KindSale:
			if _, seen := net[r.BatchID]; !seen {
				order = append(order, r.BatchID)
			}
			net[r.BatchID] += r.ChangeQty
		case domain.KindReturn:
			net[r.BatchID] -= r.ChangeQty
		}
	}

	origins := make([]Origin, 0, len(order))
	for _, id := range order {
		if net[id] > 0 {
			origins = append(origins, Origin{BatchID: id, Returnable: net[id]})
		}
	}
	return origins
}

// Returnable sums what may still be returned across origins
func Returnable(origins []Origin) int {
	total := 0
	for _, o := range origins {
		if o.Returnable == domain.UnlimitedHeadroom {
			return domain.UnlimitedHeadroom
		}
		total += o.Returnable
	}
	return total
}

// Placement is the share of a return booked on one origin batch. Absorbed
// units stay in stock; Overflow units are booked back in and immediately
// expired, so they never change the batch quantity.
type Placement struct {
	BatchID  string
	Absorbed int
	Overflow int
}

// ReturnPlan is the two-phase reconciliation of a return
type ReturnPlan struct {
	Placements []Placement
	Requested  int
	Absorbed   int
	Overflow   int
	// Unplaced is quantity no origin could take; a valid request has none
	Unplaced int
}

// Outcome is fulfilled when everything went back into stock
func (p ReturnPlan) Outcome() domain.Outcome {
	switch {
	case p.Unplaced > 0:
		return domain.OutcomeRejected
	case p.Overflow > 0:
		return domain.OutcomePartiallyFulfilled
	default:
		return domain.OutcomeFulfilled
	}
}

// PlaceReturn reconciles a return of requested units against origins.
//
// Phase one re-absorbs units into the origins in order, each step bounded
// by the origin's returnable quantity and by the SKU headroom left. Phase
// two assigns what could not be absorbed to the same origins, again
// bounded by what each may still take back, as overflow to be scrapped.
// Overflow is never taken out of stock that was already on hand.
func PlaceReturn(origins []Origin, requested, headroom int) ReturnPlan {
	plan := ReturnPlan{Requested: requested}
	headroom = max(headroom, 0)

	placements := make([]Placement, len(origins))
	remaining := requested

	for i, o := range origins {
		placements[i].BatchID = o.BatchID
		take := min(remaining, o.Returnable, headroom)
		if take <= 0 {
			continue
		}
		placements[i].Absorbed = take
		headroom -= take
		remaining -= take
		plan.Absorbed += take
	}

	for i, o := range origins {
		if remaining == 0 {
			break
		}
		take := min(remaining, o.Returnable-placements[i].Absorbed)
		if take <= 0 {
			continue
		}
		placements[i].Overflow = take
		remaining -= take
		plan.Overflow += take
	}

	for _, p := range placements {
		if p.Absorbed > 0 || p.Overflow > 0 {
			plan.Placements = append(plan.Placements, p)
		}
	}
	plan.Unplaced = remaining
	return plan
}
