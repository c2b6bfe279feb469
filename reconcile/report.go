package reconcile

import (
	"time"

	"github.com/irsalhamdi/course-reconcile/core/order"
	"github.com/irsalhamdi/course-reconcile/core/reconciliation"
	"github.com/irsalhamdi/course-reconcile/provider"
	"github.com/irsalhamdi/course-reconcile/tenant"
)

type Counts struct {
	Matched         int `json:"matched"`
	LocalMissing    int `json:"localMissing"`
	ProviderMissing int `json:"providerMissing"`
	StatusMismatch  int `json:"statusMismatch"`
	AmountMismatch  int `json:"amountMismatch"`
}

func (c *Counts) add(k reconciliation.Kind) {
	switch k {
	case reconciliation.Matched:
		c.Matched++
	case reconciliation.LocalMissing:
		c.LocalMissing++
	case reconciliation.ProviderMissing:
		c.ProviderMissing++
	case reconciliation.StatusMismatch:
		c.StatusMismatch++
	case reconciliation.AmountMismatch:
		c.AmountMismatch++
	}
}

// Outcomes tallies what happened to the chosen actions. In dry mode every
// action is DRY_RUN.
type Outcomes struct {
	Applied        int `json:"applied"`
	AlreadyApplied int `json:"alreadyApplied"`
	Failed         int `json:"failed"`
	Reported       int `json:"reported"`
	Skipped        int `json:"skipped"`
	DryRun         int `json:"dryRun"`
}

func (o *Outcomes) add(out reconciliation.Outcome) {
	switch out {
	case reconciliation.Applied:
		o.Applied++
	case reconciliation.AlreadyApplied:
		o.AlreadyApplied++
	case reconciliation.Failed:
		o.Failed++
	case reconciliation.Reported:
		o.Reported++
	case reconciliation.Skipped:
		o.Skipped++
	case reconciliation.DryRun:
		o.DryRun++
	}
}

// Discrepancy describes one external id that did not match. Local fields
// are empty when the order is missing, provider fields when the transaction
// is.
type Discrepancy struct {
	ExternalID       string                 `json:"externalId"`
	Kind             reconciliation.Kind    `json:"kind"`
	OrderID          string                 `json:"orderId,omitempty"`
	LocalAmount      *int64                 `json:"localAmount,omitempty"`
	LocalCurrency    string                 `json:"localCurrency,omitempty"`
	LocalStatus      order.Status           `json:"localStatus,omitempty"`
	ProviderAmount   *int64                 `json:"providerAmount,omitempty"`
	ProviderCurrency string                 `json:"providerCurrency,omitempty"`
	ProviderStatus   string                 `json:"providerStatus,omitempty"`
	MappedStatus     order.Status           `json:"mappedStatus,omitempty"`
	Action           reconciliation.Action  `json:"action"`
	Reason           string                 `json:"reason,omitempty"`
	Outcome          reconciliation.Outcome `json:"outcome"`
	Error            string                 `json:"error,omitempty"`
}

// Report is the result of a run. A dry run and a live run over the same
// data differ only in AppliedAnyWrites and the outcome fields.
type Report struct {
	RunID            string          `json:"runId"`
	Tenant           tenant.ID       `json:"tenant"`
	Provider         string          `json:"provider"`
	Window           provider.Window `json:"window"`
	DryRun           bool            `json:"dryRun"`
	Resumed          bool            `json:"resumed"`
	State            State           `json:"state"`
	Counts           Counts          `json:"counts"`
	Discrepancies    []Discrepancy   `json:"discrepancies"`
	AppliedAnyWrites bool            `json:"appliedAnyWrites"`
	Outcomes         Outcomes        `json:"outcomes"`
	Cursor           provider.Cursor `json:"cursor,omitempty"`
	StartedAt        time.Time       `json:"startedAt"`
	FinishedAt       time.Time       `json:"finishedAt"`

	// Unverified lists the local orders a resumed run could not check:
	// their transactions may sit on the pages before the resume cursor.
	Unverified []string `json:"unverified,omitempty"`
}

// reporter assembles a Report. It is used from a single goroutine.
type reporter struct {
	report Report
	pairs  []Pair
}

func newReporter(r Report) *reporter {
	r.Discrepancies = []Discrepancy{}
	return &reporter{report: r}
}

// add records the classification of p and, unless it matched, a
// discrepancy carrying decision d. It returns the discrepancy index or -1.
func (rp *reporter) add(p Pair, d Decision) int {
	rp.report.Counts.add(p.Kind)
	if p.Kind == reconciliation.Matched {
		return -1
	}

	disc := Discrepancy{
		ExternalID:   p.ExternalID,
		Kind:         p.Kind,
		MappedStatus: p.Mapped,
		Action:       d.Action,
		Reason:       d.Reason,
	}
	if p.Local != nil {
		amount := p.Local.Amount
		disc.OrderID = p.Local.ID
		disc.LocalAmount = &amount
		disc.LocalCurrency = p.Local.Currency
		disc.LocalStatus = p.Local.Status
	}
	if p.Remote != nil {
		amount := p.Remote.Amount
		disc.ProviderAmount = &amount
		disc.ProviderCurrency = p.Remote.Currency
		disc.ProviderStatus = p.Remote.Status
	}

	rp.report.Discrepancies = append(rp.report.Discrepancies, disc)
	rp.pairs = append(rp.pairs, p)
	return len(rp.report.Discrepancies) - 1
}

func (rp *reporter) outcome(i int, out reconciliation.Outcome) {
	rp.report.Discrepancies[i].Outcome = out
	rp.report.Outcomes.add(out)
	if out == reconciliation.Applied {
		rp.report.AppliedAnyWrites = true
	}
}

func (rp *reporter) unverified(externalID string) {
	rp.report.Unverified = append(rp.report.Unverified, externalID)
}

// alreadyApplied counts a matched id whose correction a previous run made.
func (rp *reporter) alreadyApplied() {
	rp.report.Outcomes.AlreadyApplied++
}

func (rp *reporter) finish(s State, now time.Time) Report {
	rp.report.State = s
	rp.report.FinishedAt = now
	return rp.report
}
