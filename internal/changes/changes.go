// Package changes compares two ticket snapshots and describes what happened
// between them.
package changes

import (
	"time"

	"ticketwatch/internal/models"
)

// index is an insertion-ordered map from section row to listing. A repeated key
// keeps the position of its first occurrence and the value of its last.
type index struct {
	order []string
	byKey map[string]models.TicketListing
}

func newIndex(listings []models.TicketListing) index {
	idx := index{
		order: make([]string, 0, len(listings)),
		byKey: make(map[string]models.TicketListing, len(listings)),
	}
	for _, l := range listings {
		if _, seen := idx.byKey[l.SectionRow]; !seen {
			idx.order = append(idx.order, l.SectionRow)
		}
		idx.byKey[l.SectionRow] = l
	}
	return idx
}

// Diff returns the price changes for rows present in both snapshots followed by
// the rows that only exist in the new snapshot, each group in the new
// snapshot's order. A nil old snapshot means there is nothing to compare
// against and yields no changes. Rows that disappeared are not reported.
//
// Neither input is modified.
func Diff(oldTickets, newTickets []models.TicketListing, at time.Time) []models.ChangeEvent {
	if oldTickets == nil {
		return []models.ChangeEvent{}
	}

	before := newIndex(oldTickets)
	after := newIndex(newTickets)

	var priced, added []models.ChangeEvent
	for _, key := range after.order {
		cur := after.byKey[key]
		prev, ok := before.byKey[key]
		if !ok {
			added = append(added, models.ChangeEvent{
				Timestamp: at,
				Type:      models.NewSection,
				Details: models.ChangeDetails{
					SectionRow: key,
					Price:      cur.Price,
				},
			})
			continue
		}
		if prev.Price != cur.Price {
			priced = append(priced, models.ChangeEvent{
				Timestamp: at,
				Type:      models.PriceChange,
				Details: models.ChangeDetails{
					SectionRow: key,
					OldPrice:   prev.Price,
					NewPrice:   cur.Price,
				},
			})
		}
	}

	out := make([]models.ChangeEvent, 0, len(priced)+len(added))
	out = append(out, priced...)
	out = append(out, added...)
	return out
}
