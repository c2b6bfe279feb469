package reconcile

import (
	"fmt"

	"github.com/irsalhamdi/course-reconcile/core/order"
	"github.com/irsalhamdi/course-reconcile/core/reconciliation"
)

// Decision is the action chosen for a Pair. Target is the order status an
// UPDATED_STATUS action writes.
type Decision struct {
	Action reconciliation.Action
	Target order.Status
	Reason string
}

// Resolve maps a classified pair to the action a live run takes. It never
// chooses to delete, cancel or re-price an order: anything that cannot be
// corrected by creating a paid order or moving a status forward is flagged.
// Dry runs use the same decision and only skip applying it.
func Resolve(p Pair) Decision {
	switch p.Kind {
	case reconciliation.Matched:
		return Decision{Action: reconciliation.None}

	case reconciliation.LocalMissing:
		switch {
		case p.Remote == nil:
			return flag("missing provider transaction")
		case !p.Remote.Attributed():
			return flag("provider transaction carries no user or product attribution")
		case p.Mapped != order.Paid:
			return flag(fmt.Sprintf("provider status %s does not grant access", p.Mapped))
		}
		return Decision{Action: reconciliation.CreatedOrder, Target: order.Paid}

	case reconciliation.StatusMismatch:
		switch {
		case p.Local == nil || p.Mapped == "":
			return flag("missing status")
		case p.Stale:
			return flag(p.Reason)
		case !p.Local.Status.CanTransition(p.Mapped):
			return flag(fmt.Sprintf("transition %s to %s is not allowed", p.Local.Status, p.Mapped))
		}
		return Decision{Action: reconciliation.UpdatedStatus, Target: p.Mapped}
	}

	// PROVIDER_MISSING, AMOUNT_MISMATCH and anything unknown.
	return flag(p.Reason)
}

func flag(reason string) Decision {
	return Decision{Action: reconciliation.Flagged, Reason: reason}
}
