package enrollment

import (
	"time"

	"github.com/irsalhamdi/course-reconcile/tenant"
)

// Enrollment grants a user access to a course. An active enrollment must be
// backed by a PAID order for the same user and course.
type Enrollment struct {
	Tenant    tenant.ID  `json:"tenant" db:"-"`
	UserID    string     `json:"userId" db:"user_id"`
	CourseID  string     `json:"courseId" db:"course_id"`
	Active    bool       `json:"active" db:"active"`
	EndDate   *time.Time `json:"endDate" db:"end_date"`
	UpdatedAt time.Time  `json:"updatedAt" db:"updated_at"`
}

// Expired reports whether the access period ended before now.
func (e Enrollment) Expired(now time.Time) bool {
	return e.EndDate != nil && !e.EndDate.After(now)
}
