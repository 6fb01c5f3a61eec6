package store

import (
	"sort"

	"github.com/pelusa-v/firechat/internal/domain"
)

// docSet is the message state a subscription has delivered so far. When a
// listener comes back after an outage it diffs the fresh result set against
// it, so deletes and edits made during the gap still reach the widget.
type docSet map[string]domain.Message

func (d docSet) apply(batch []domain.Change) {
	for _, ch := range batch {
		switch ch.Kind {
		case domain.Added, domain.Modified:
			d[ch.ID] = ch.Message
		case domain.Removed:
			delete(d, ch.ID)
		}
	}
}

// resync returns the changes that turn the delivered state into fresh and
// records fresh as the new state. fresh is in feed order.
func (d docSet) resync(fresh []domain.Message) []domain.Change {
	present := make(map[string]struct{}, len(fresh))
	for _, m := range fresh {
		present[m.ID] = struct{}{}
	}

	var gone []string
	for id := range d {
		if _, ok := present[id]; !ok {
			gone = append(gone, id)
		}
	}
	sort.Strings(gone)

	out := make([]domain.Change, 0, len(gone))
	for _, id := range gone {
		delete(d, id)
		out = append(out, domain.RemovedChange(id))
	}

	for _, m := range fresh {
		old, ok := d[m.ID]
		switch {
		case !ok:
			out = append(out, domain.AddedChange(m))
		case !sameMessage(old, m):
			out = append(out, domain.ModifiedChange(m))
		default:
			continue
		}
		d[m.ID] = m
	}
	return out
}

func sameMessage(a, b domain.Message) bool {
	if a.Text != b.Text || a.Edited != b.Edited || a.UserName != b.UserName {
		return false
	}
	if a.Timestamp == nil || b.Timestamp == nil {
		return a.Timestamp == b.Timestamp
	}
	return a.Timestamp.Equal(*b.Timestamp)
}
