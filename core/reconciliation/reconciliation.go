// Package reconciliation holds the audit records written by the
// reconciliation engine. Records are append-only.
package reconciliation

import (
	"time"

	"github.com/irsalhamdi/course-reconcile/tenant"
)

// Kind classifies the relation between a local order and a provider
// transaction sharing the same external id.
type Kind string

const (
	Matched         Kind = "MATCHED"
	LocalMissing    Kind = "LOCAL_MISSING"
	ProviderMissing Kind = "PROVIDER_MISSING"
	StatusMismatch  Kind = "STATUS_MISMATCH"
	AmountMismatch  Kind = "AMOUNT_MISMATCH"
)

type Action string

const (
	None          Action = "NONE"
	CreatedOrder  Action = "CREATED_ORDER"
	UpdatedStatus Action = "UPDATED_STATUS"
	Flagged       Action = "FLAGGED"
)

// Mutates reports whether the action writes to orders or enrollments.
func (a Action) Mutates() bool {
	return a == CreatedOrder || a == UpdatedStatus
}

type Outcome string

const (
	Applied        Outcome = "APPLIED"
	AlreadyApplied Outcome = "ALREADY_APPLIED"
	Failed         Outcome = "FAILED"
	Reported       Outcome = "REPORTED"
	DryRun         Outcome = "DRY_RUN"
	Skipped        Outcome = "SKIPPED"
)

type Record struct {
	ID         string    `json:"id" db:"record_id"`
	Tenant     tenant.ID `json:"tenant" db:"tenant"`
	RunID      string    `json:"runId" db:"run_id"`
	ExternalID string    `json:"externalId" db:"external_id"`
	Kind       Kind      `json:"kind" db:"kind"`
	Action     Action    `json:"action" db:"action"`
	Outcome    Outcome   `json:"outcome" db:"outcome"`
	Detail     string    `json:"detail" db:"detail"`
	CreatedAt  time.Time `json:"createdAt" db:"created_at"`
}
