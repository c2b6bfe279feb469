package reconcile

import (
	"fmt"
	"sort"

	"github.com/irsalhamdi/course-reconcile/core/order"
	"github.com/irsalhamdi/course-reconcile/core/reconciliation"
	"github.com/irsalhamdi/course-reconcile/provider"
)

// Pair is one external id of the union of both ledgers together with its
// classification. Local or Remote is nil when the id is missing on that side.
type Pair struct {
	ExternalID string
	Local      *order.Order
	Remote     *provider.Transaction
	Kind       reconciliation.Kind

	// Mapped is the provider status in the order vocabulary, empty when
	// the provider status is unrecognized.
	Mapped order.Status

	// Stale is set on a STATUS_MISMATCH whose provider timestamp is not
	// newer than the local update.
	Stale bool

	Reason string
}

// Matcher classifies local orders against provider transactions.
type Matcher struct {
	Statuses provider.StatusMap
}

// Match returns one Pair per external id in the union of orders and txs,
// sorted by external id. Orders without an external id are ignored. When the
// provider reports the same id more than once the latest transaction wins.
func (m Matcher) Match(orders []order.Order, txs []provider.Transaction) []Pair {
	local := make([]order.Order, 0, len(orders))
	for _, o := range orders {
		if o.ExternalID != nil && *o.ExternalID != "" {
			local = append(local, o)
		}
	}
	sort.SliceStable(local, func(i, j int) bool {
		return *local[i].ExternalID < *local[j].ExternalID
	})

	remote := latest(txs)

	pairs := make([]Pair, 0, len(local)+len(remote))
	i, j := 0, 0
	for i < len(local) || j < len(remote) {
		switch {
		case j == len(remote) || (i < len(local) && *local[i].ExternalID < remote[j].ExternalID):
			pairs = append(pairs, m.localOnly(&local[i]))
			i++

		case i == len(local) || remote[j].ExternalID < *local[i].ExternalID:
			pairs = append(pairs, m.remoteOnly(&remote[j]))
			j++

		default:
			pairs = append(pairs, m.both(&local[i], &remote[j]))
			i++
			j++

			// Duplicate local rows for one id cannot exist once the unique
			// index holds; surface them instead of pairing twice.
			for i < len(local) && *local[i].ExternalID == *local[i-1].ExternalID {
				pairs = append(pairs, m.localOnly(&local[i]))
				i++
			}
		}
	}

	return pairs
}

func latest(txs []provider.Transaction) []provider.Transaction {
	sorted := make([]provider.Transaction, len(txs))
	copy(sorted, txs)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].ExternalID != sorted[j].ExternalID {
			return sorted[i].ExternalID < sorted[j].ExternalID
		}
		return sorted[i].Timestamp.Before(sorted[j].Timestamp)
	})

	out := sorted[:0]
	for _, tx := range sorted {
		if tx.ExternalID == "" {
			continue
		}
		if n := len(out); n > 0 && out[n-1].ExternalID == tx.ExternalID {
			out[n-1] = tx
			continue
		}
		out = append(out, tx)
	}
	return out
}

func (m Matcher) localOnly(o *order.Order) Pair {
	return Pair{
		ExternalID: *o.ExternalID,
		Local:      o,
		Kind:       reconciliation.ProviderMissing,
		Reason:     "no provider transaction in window",
	}
}

func (m Matcher) remoteOnly(tx *provider.Transaction) Pair {
	p := Pair{
		ExternalID: tx.ExternalID,
		Remote:     tx,
		Kind:       reconciliation.LocalMissing,
	}

	mapped, ok := m.Statuses.Lookup(tx.Status)
	if !ok {
		p.Kind = reconciliation.AmountMismatch
		p.Reason = fmt.Sprintf("unrecognized provider status %q", tx.Status)
		return p
	}
	p.Mapped = mapped
	return p
}

func (m Matcher) both(o *order.Order, tx *provider.Transaction) Pair {
	p := Pair{
		ExternalID: tx.ExternalID,
		Local:      o,
		Remote:     tx,
	}

	mapped, ok := m.Statuses.Lookup(tx.Status)
	p.Mapped = mapped

	switch {
	case o.Currency != tx.Currency:
		p.Kind = reconciliation.AmountMismatch
		p.Reason = fmt.Sprintf("currency %s locally, %s at provider", o.Currency, tx.Currency)

	case o.Amount != tx.Amount:
		p.Kind = reconciliation.AmountMismatch
		p.Reason = fmt.Sprintf("amount %d locally, %d at provider", o.Amount, tx.Amount)

	case !ok:
		p.Kind = reconciliation.AmountMismatch
		p.Reason = fmt.Sprintf("unrecognized provider status %q", tx.Status)

	case mapped == o.Status:
		p.Kind = reconciliation.Matched

	default:
		p.Kind = reconciliation.StatusMismatch
		if !tx.Timestamp.After(o.UpdatedAt) {
			p.Stale = true
			p.Reason = "provider status is not newer than the local update"
		}
	}

	return p
}
