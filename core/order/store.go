package order

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/irsalhamdi/course-reconcile/database"
	"github.com/jmoiron/sqlx"
)

// ErrStaleStatus is returned by UpdateStatus when the row no longer holds
// the expected status.
var ErrStaleStatus = errors.New("order status changed concurrently")

func Create(ctx context.Context, db sqlx.ExtContext, o Order) error {
	const q = `
	INSERT INTO orders
		(order_id, external_id, amount, currency, status, user_id, product_type, product_id, created_at, updated_at)
	VALUES
		(:order_id, :external_id, :amount, :currency, :status, :user_id, :product_type, :product_id, :created_at, :updated_at)`

	if _, err := sqlx.NamedExecContext(ctx, db, q, o); err != nil {
		if database.IsUniqueViolation(err) {
			return fmt.Errorf("inserting order: %w: %v", database.ErrDBDuplicatedEntry, err)
		}
		return fmt.Errorf("inserting order: %w", err)
	}

	return nil
}

// UpdateStatus moves an order from up.From to up.Status. The WHERE clause
// on the previous status serializes concurrent writers on the same row.
func UpdateStatus(ctx context.Context, db sqlx.ExtContext, up StatusUp) error {
	const q = `
	UPDATE orders SET
		status = :status,
		updated_at = :updated_at
	WHERE order_id = :order_id AND status = :from_status`

	res, err := sqlx.NamedExecContext(ctx, db, q, up)
	if err != nil {
		return fmt.Errorf("updating order status: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("reading affected rows: %w", err)
	}
	if n == 0 {
		return ErrStaleStatus
	}

	return nil
}

func Fetch(ctx context.Context, db sqlx.ExtContext, id string) (Order, error) {
	const q = `
	SELECT *
	FROM orders
	WHERE order_id = $1`

	var o Order
	if err := sqlx.GetContext(ctx, db, &o, q, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Order{}, database.ErrDBNotFound
		}
		return Order{}, fmt.Errorf("selecting order[%s]: %w", id, err)
	}

	return o, nil
}

func FetchByExternalID(ctx context.Context, db sqlx.ExtContext, externalID string) (Order, error) {
	const q = `
	SELECT *
	FROM orders
	WHERE external_id = $1`

	var o Order
	if err := sqlx.GetContext(ctx, db, &o, q, externalID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Order{}, database.ErrDBNotFound
		}
		return Order{}, fmt.Errorf("selecting order by external id[%s]: %w", externalID, err)
	}

	return o, nil
}

// FetchByWindow returns the orders created in [from, to) that are bound to
// a provider transaction.
func FetchByWindow(ctx context.Context, db sqlx.ExtContext, from, to time.Time) ([]Order, error) {
	const q = `
	SELECT *
	FROM orders
	WHERE external_id IS NOT NULL
		AND created_at >= $1
		AND created_at < $2
	ORDER BY external_id`

	orders := []Order{}
	if err := sqlx.SelectContext(ctx, db, &orders, q, from.UTC(), to.UTC()); err != nil {
		return nil, fmt.Errorf("selecting orders between %s and %s: %w", from, to, err)
	}

	return orders, nil
}
