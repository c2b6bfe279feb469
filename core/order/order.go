package order

import (
	"time"

	"github.com/irsalhamdi/course-reconcile/tenant"
)

type Status string

const (
	Pending   Status = "PENDING"
	Paid      Status = "PAID"
	Cancelled Status = "CANCELLED"
	Refunded  Status = "REFUNDED"
	Failed    Status = "FAILED"
)

var transitions = map[Status][]Status{
	Pending: {Paid, Failed, Cancelled},
	Paid:    {Refunded},
}

// CanTransition reports whether an order may move from s to next. Orders
// only move forward: PENDING to PAID, FAILED or CANCELLED, and PAID to
// REFUNDED.
func (s Status) CanTransition(next Status) bool {
	for _, st := range transitions[s] {
		if st == next {
			return true
		}
	}
	return false
}

type ProductType string

const (
	Course     ProductType = "course"
	FreeCourse ProductType = "free_course"
	Ebook      ProductType = "ebook"
)

// Enrolls reports whether buying the product grants a course enrollment.
func (p ProductType) Enrolls() bool {
	return p == Course || p == FreeCourse
}

type Order struct {
	Tenant      tenant.ID   `json:"tenant" db:"-"`
	ID          string      `json:"id" db:"order_id"`
	ExternalID  *string     `json:"externalId" db:"external_id"`
	Amount      int64       `json:"amount" db:"amount"`
	Currency    string      `json:"currency" db:"currency"`
	Status      Status      `json:"status" db:"status"`
	UserID      string      `json:"userId" db:"user_id"`
	ProductType ProductType `json:"productType" db:"product_type"`
	ProductID   string      `json:"productId" db:"product_id"`
	CreatedAt   time.Time   `json:"createdAt" db:"created_at"`
	UpdatedAt   time.Time   `json:"updatedAt" db:"updated_at"`
}

type OrderNew struct {
	ExternalID  string      `json:"externalId" validate:"required"`
	Amount      int64       `json:"amount" validate:"gte=0"`
	Currency    string      `json:"currency" validate:"required,len=3"`
	Status      Status      `json:"status" validate:"required,oneof=PENDING PAID CANCELLED REFUNDED FAILED"`
	UserID      string      `json:"userId" validate:"required"`
	ProductType ProductType `json:"productType" validate:"required,oneof=course free_course ebook"`
	ProductID   string      `json:"productId" validate:"required"`
	CreatedAt   time.Time   `json:"createdAt"`
}

type StatusUp struct {
	ID        string    `db:"order_id"`
	From      Status    `db:"from_status"`
	Status    Status    `db:"status"`
	UpdatedAt time.Time `db:"updated_at"`
}
