package enrollment

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/irsalhamdi/course-reconcile/database"
	"github.com/jmoiron/sqlx"
)

// Upsert stores e, replacing the active flag and end date of an existing
// enrollment for the same user and course.
func Upsert(ctx context.Context, db sqlx.ExtContext, e Enrollment) error {
	const q = `
	INSERT INTO enrollments
		(user_id, course_id, active, end_date, updated_at)
	VALUES
		(:user_id, :course_id, :active, :end_date, :updated_at)
	ON CONFLICT (user_id, course_id) DO UPDATE SET
		active = EXCLUDED.active,
		end_date = EXCLUDED.end_date,
		updated_at = EXCLUDED.updated_at`

	if _, err := sqlx.NamedExecContext(ctx, db, q, e); err != nil {
		return fmt.Errorf("upserting enrollment user[%s] course[%s]: %w", e.UserID, e.CourseID, err)
	}

	return nil
}

func Fetch(ctx context.Context, db sqlx.ExtContext, userID string, courseID string) (Enrollment, error) {
	const q = `
	SELECT *
	FROM enrollments
	WHERE user_id = $1 AND course_id = $2`

	var e Enrollment
	if err := sqlx.GetContext(ctx, db, &e, q, userID, courseID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Enrollment{}, database.ErrDBNotFound
		}
		return Enrollment{}, fmt.Errorf("selecting enrollment user[%s] course[%s]: %w", userID, courseID, err)
	}

	return e, nil
}
