// Package directory answers identity and authorization questions from the
// platform's PostgreSQL database. It only reads; the scheduling and
// enrollment tables are owned by the platform's web application.
package directory

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pramodkumar0813/DI-Skill-Bridge/internal/auth"
	"github.com/pramodkumar0813/DI-Skill-Bridge/internal/models"
)

// Postgres implements the user lookup and the authorization oracle.
type Postgres struct {
	pool *pgxpool.Pool
}

// Connect opens a pool against databaseURL and verifies it.
func Connect(ctx context.Context, databaseURL string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("directory: open pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("directory: ping: %w", err)
	}
	return &Postgres{pool: pool}, nil
}

func (p *Postgres) Close() {
	p.pool.Close()
}

func (p *Postgres) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

// Class session ids are integer primary keys; anything else cannot exist.
func parseID(id string) (int64, bool) {
	n, err := strconv.ParseInt(strings.TrimSpace(id), 10, 64)
	return n, err == nil && n > 0
}

type userRow struct {
	ID        int64
	Email     pgtype.Text
	FirstName pgtype.Text
	LastName  pgtype.Text
	Role      pgtype.Text
	IsActive  bool
}

// LookupUser loads the account behind a token's user_id.
func (p *Postgres) LookupUser(ctx context.Context, userID string) (models.Identity, error) {
	id, ok := parseID(userID)
	if !ok {
		return models.Identity{}, auth.ErrUserNotFound
	}

	var u userRow
	err := p.pool.QueryRow(ctx, `
		SELECT id, email, first_name, last_name, role, is_active
		FROM users
		WHERE id = $1
	`, id).Scan(&u.ID, &u.Email, &u.FirstName, &u.LastName, &u.Role, &u.IsActive)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Identity{}, auth.ErrUserNotFound
	}
	if err != nil {
		return models.Identity{}, fmt.Errorf("%w: lookup user: %v", models.ErrDirectoryUnavailable, err)
	}

	return models.Identity{
		UserID:   strconv.FormatInt(u.ID, 10),
		Email:    u.Email.String,
		FullName: strings.TrimSpace(u.FirstName.String + " " + u.LastName.String),
		Role:     models.Role(u.Role.String),
		IsActive: u.IsActive,
	}, nil
}

// Session loads the class session that backs a room. A missing session is
// reported as models.ErrRoomNotFound.
func (p *Postgres) Session(ctx context.Context, sessionID string) (models.ClassSession, error) {
	id, ok := parseID(sessionID)
	if !ok {
		return models.ClassSession{}, fmt.Errorf("%w: session %q", models.ErrRoomNotFound, sessionID)
	}

	var (
		scheduleID, courseID int64
		batch                string
		date                 pgtype.Date
		start, end           pgtype.Timestamptz
		active               bool
	)
	err := p.pool.QueryRow(ctx, `
		SELECT cs.schedule_id, sch.course_id, sch.batch, cs.session_date,
		       cs.start_time, cs.end_time, cs.is_active
		FROM class_sessions cs
		JOIN class_schedules sch ON sch.id = cs.schedule_id
		WHERE cs.id = $1
	`, id).Scan(&scheduleID, &courseID, &batch, &date, &start, &end, &active)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.ClassSession{}, fmt.Errorf("%w: session %d", models.ErrRoomNotFound, id)
	}
	if err != nil {
		return models.ClassSession{}, fmt.Errorf("%w: load session: %v", models.ErrDirectoryUnavailable, err)
	}

	return models.ClassSession{
		ID:          strconv.FormatInt(id, 10),
		ScheduleID:  strconv.FormatInt(scheduleID, 10),
		CourseID:    strconv.FormatInt(courseID, 10),
		Batch:       batch,
		SessionDate: date.Time,
		StartTime:   start.Time,
		EndTime:     end.Time,
		IsActive:    active,
	}, nil
}

// IsAuthorizedForSession applies the platform's access rule. A teacher must
// own a schedule for the session's course and batch whose batch dates cover
// the session date. A student needs an enrollment in that course and batch
// whose dates cover the session date.
func (p *Postgres) IsAuthorizedForSession(ctx context.Context, userID string, role models.Role, sessionID string) (bool, error) {
	uid, ok := parseID(userID)
	if !ok {
		return false, nil
	}
	session, err := p.Session(ctx, sessionID)
	if errors.Is(err, models.ErrRoomNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	courseID, _ := strconv.ParseInt(session.CourseID, 10, 64)
	day := sessionDay(session)

	var query string
	switch role {
	case models.RoleTeacher:
		query = `
			SELECT EXISTS (
				SELECT 1 FROM class_schedules
				WHERE teacher_id = $1 AND course_id = $2 AND batch = $3
				  AND batch_start_date <= $4 AND batch_end_date >= $4
			)`
	case models.RoleStudent:
		query = `
			SELECT EXISTS (
				SELECT 1 FROM course_enrollments
				WHERE student_id = $1 AND course_id = $2 AND batch = $3
				  AND start_date <= $4 AND end_date >= $4
			)`
	default:
		return false, nil
	}

	var allowed bool
	if err := p.pool.QueryRow(ctx, query, uid, courseID, session.Batch, day).Scan(&allowed); err != nil {
		return false, fmt.Errorf("%w: authorize %s %d: %v", models.ErrDirectoryUnavailable, role, uid, err)
	}
	return allowed, nil
}

// sessionDay is the calendar date a session belongs to.
func sessionDay(s models.ClassSession) time.Time {
	if !s.SessionDate.IsZero() {
		return s.SessionDate
	}
	y, m, d := s.StartTime.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
