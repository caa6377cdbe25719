package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/Auros/VRAtlas.API-sub000/internal/domain"
	"github.com/Auros/VRAtlas.API-sub000/internal/store"
)

// DefaultOpTimeout bounds a single statement when no timeout is configured.
const DefaultOpTimeout = 5 * time.Second

// querier is satisfied by *sql.DB, *sql.Conn and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store implements store.Store and store.Opener using PostgreSQL.
type Store struct {
	reader
	db *sql.DB
}

// New creates a PostgreSQL store. opTimeout bounds each statement.
func New(db *sql.DB, opTimeout time.Duration) *Store {
	if opTimeout <= 0 {
		opTimeout = DefaultOpTimeout
	}
	return &Store{
		reader: reader{q: db, timeout: opTimeout},
		db:     db,
	}
}

// InTx runs fn in a transaction on the pool.
func (s *Store) InTx(ctx context.Context, fn func(tx store.Tx) error) error {
	return inTx(ctx, s.db, s.timeout, fn)
}

// Open acquires a dedicated connection for one unit of work.
func (s *Store) Open(ctx context.Context) (store.Session, error) {
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire connection: %w", err)
	}
	return &Session{reader: reader{q: conn, timeout: s.timeout}, conn: conn}, nil
}

// Session is a store bound to a single connection.
type Session struct {
	reader
	conn *sql.Conn
}

func (s *Session) InTx(ctx context.Context, fn func(tx store.Tx) error) error {
	return inTx(ctx, s.conn, s.timeout, fn)
}

// Close returns the connection to the pool.
func (s *Session) Close() error {
	return s.conn.Close()
}

type txBeginner interface {
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
}

func inTx(ctx context.Context, b txBeginner, timeout time.Duration, fn func(tx store.Tx) error) error {
	sqlTx, err := b.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}

	if err := fn(&tx{reader: reader{q: sqlTx, timeout: timeout}, sqlTx: sqlTx}); err != nil {
		_ = sqlTx.Rollback()
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

type reader struct {
	q       querier
	timeout time.Duration
}

func (r reader) opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, r.timeout)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvent(row rowScanner) (domain.Event, error) {
	var e domain.Event
	var status string
	var start, end sql.NullTime

	err := row.Scan(
		&e.ID,
		&e.GroupID,
		&e.Name,
		&status,
		&e.AutoStart,
		&start,
		&end,
		&e.ScheduleVersion,
		&e.CreatedAt,
		&e.UpdatedAt,
	)
	if err != nil {
		return domain.Event{}, err
	}
	e.Status = domain.EventStatus(status)
	if start.Valid {
		t := start.Time.UTC()
		e.StartTime = &t
	}
	if end.Valid {
		t := end.Time.UTC()
		e.EndTime = &t
	}
	return e, nil
}

func scanNotification(row rowScanner) (domain.Notification, error) {
	var n domain.Notification
	var subjectType, kind string

	err := row.Scan(
		&n.ID,
		&n.RecipientID,
		&n.SubjectID,
		&subjectType,
		&kind,
		&n.Title,
		&n.Description,
		&n.CreatedAt,
		&n.Read,
	)
	if err != nil {
		return domain.Notification{}, err
	}
	n.SubjectType = domain.SubjectType(subjectType)
	n.Kind = domain.NotificationKind(kind)
	return n, nil
}

// notFound maps sql.ErrNoRows to store.ErrNotFound.
func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return store.ErrNotFound
	}
	return err
}

func (r reader) GetEvent(ctx context.Context, id uuid.UUID) (domain.Event, error) {
	ctx, cancel := r.opContext(ctx)
	defer cancel()

	e, err := scanEvent(r.q.QueryRowContext(ctx, queryGetEvent, id))
	if err != nil {
		return domain.Event{}, notFound(err)
	}
	return e, nil
}

func (r reader) GetGroup(ctx context.Context, id uuid.UUID) (domain.Group, error) {
	ctx, cancel := r.opContext(ctx)
	defer cancel()

	var g domain.Group
	if err := r.q.QueryRowContext(ctx, queryGetGroup, id).Scan(&g.ID, &g.Name); err != nil {
		return domain.Group{}, notFound(err)
	}
	return g, nil
}

func (r reader) GetUser(ctx context.Context, id uuid.UUID) (domain.User, error) {
	ctx, cancel := r.opContext(ctx)
	defer cancel()

	var u domain.User
	err := r.q.QueryRowContext(ctx, queryGetUser, id).Scan(&u.ID, &u.Username, &u.PushEndpoint, &u.PushSecret)
	if err != nil {
		return domain.User{}, notFound(err)
	}
	return u, nil
}

func (r reader) GetNotification(ctx context.Context, id uuid.UUID) (domain.Notification, error) {
	ctx, cancel := r.opContext(ctx)
	defer cancel()

	n, err := scanNotification(r.q.QueryRowContext(ctx, queryGetNotification, id))
	if err != nil {
		return domain.Notification{}, notFound(err)
	}
	return n, nil
}

func (r reader) GetParticipant(ctx context.Context, eventID, userID uuid.UUID) (domain.Participant, error) {
	ctx, cancel := r.opContext(ctx)
	defer cancel()

	var p domain.Participant
	var status string
	err := r.q.QueryRowContext(ctx, queryGetParticipant, eventID, userID).Scan(&p.EventID, &p.UserID, &status, &p.UpdatedAt)
	if err != nil {
		return domain.Participant{}, notFound(err)
	}
	p.Status = domain.ParticipantStatus(status)
	return p, nil
}

func (r reader) ListFollowers(ctx context.Context, subjectID uuid.UUID, subjectType domain.SubjectType, filter domain.FollowFilter) ([]domain.Follow, error) {
	ctx, cancel := r.opContext(ctx)
	defer cancel()

	rows, err := r.q.QueryContext(ctx, queryListFollowers, subjectID, string(subjectType), string(filter))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.Follow
	for rows.Next() {
		var f domain.Follow
		var st string
		err := rows.Scan(
			&f.UserID,
			&f.SubjectID,
			&st,
			&f.Preferences.AtStart,
			&f.Preferences.AtThirtyMinutes,
			&f.Preferences.AtOneHour,
			&f.Preferences.AtOneDay,
		)
		if err != nil {
			return nil, err
		}
		f.SubjectType = domain.SubjectType(st)
		result = append(result, f)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (r reader) ListSchedulableEvents(ctx context.Context, endsAfter time.Time, limit, offset int) ([]domain.Event, error) {
	ctx, cancel := r.opContext(ctx)
	defer cancel()

	rows, err := r.q.QueryContext(ctx, queryListSchedulableEvents, endsAfter, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, e)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (r reader) ListNotifications(ctx context.Context, userID uuid.UUID, limit, offset int) ([]domain.Notification, error) {
	ctx, cancel := r.opContext(ctx)
	defer cancel()

	rows, err := r.q.QueryContext(ctx, queryListNotifications, userID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, n)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

type tx struct {
	reader
	sqlTx *sql.Tx
}

// GetEventForUpdate locks the row for the rest of the transaction.
// PostgreSQL acquires the row lock before returning, serializing concurrent
// transitions of the same event.
func (t *tx) GetEventForUpdate(ctx context.Context, id uuid.UUID) (domain.Event, error) {
	ctx, cancel := t.opContext(ctx)
	defer cancel()

	e, err := scanEvent(t.q.QueryRowContext(ctx, queryGetEventForUpdate, id))
	if err != nil {
		return domain.Event{}, notFound(err)
	}
	return e, nil
}

func (t *tx) UpdateEventSchedule(ctx context.Context, id uuid.UUID, start, end time.Time, version int64, updatedAt time.Time) error {
	return t.execOne(ctx, queryUpdateEventSchedule, id, start.UTC(), end.UTC(), version, updatedAt)
}

func (t *tx) UpdateEventStatus(ctx context.Context, id uuid.UUID, status domain.EventStatus, updatedAt time.Time) error {
	return t.execOne(ctx, queryUpdateEventStatus, id, string(status), updatedAt)
}

func (t *tx) MarkNotificationRead(ctx context.Context, id, userID uuid.UUID) error {
	return t.execOne(ctx, queryMarkNotificationRead, id, userID)
}

func (t *tx) UpsertParticipant(ctx context.Context, p domain.Participant) error {
	ctx, cancel := t.opContext(ctx)
	defer cancel()

	_, err := t.q.ExecContext(ctx, queryUpsertParticipant, p.EventID, p.UserID, string(p.Status), p.UpdatedAt)
	if isForeignKeyError(err) {
		return store.ErrNotFound
	}
	return err
}

// InsertNotifications streams the batch through COPY inside the transaction.
func (t *tx) InsertNotifications(ctx context.Context, notifications []domain.Notification) error {
	if len(notifications) == 0 {
		return nil
	}

	ctx, cancel := t.opContext(ctx)
	defer cancel()

	stmt, err := t.sqlTx.PrepareContext(ctx, pq.CopyIn("notifications",
		"id", "recipient_id", "subject_id", "subject_type", "kind",
		"title", "description", "created_at", "read",
	))
	if err != nil {
		return fmt.Errorf("prepare copy: %w", err)
	}
	defer stmt.Close()

	for _, n := range notifications {
		_, err := stmt.ExecContext(ctx,
			n.ID.String(),
			n.RecipientID.String(),
			n.SubjectID.String(),
			string(n.SubjectType),
			string(n.Kind),
			n.Title,
			n.Description,
			n.CreatedAt,
			n.Read,
		)
		if err != nil {
			return fmt.Errorf("copy row: %w", err)
		}
	}

	if _, err := stmt.ExecContext(ctx); err != nil {
		return fmt.Errorf("flush copy: %w", err)
	}
	return nil
}

// execOne runs a statement that must affect exactly one row.
func (t *tx) execOne(ctx context.Context, query string, args ...any) error {
	ctx, cancel := t.opContext(ctx)
	defer cancel()

	result, err := t.q.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

// isForeignKeyError reports a PostgreSQL foreign_key_violation (23503).
func isForeignKeyError(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23503"
	}
	return false
}

// Compile-time interface assertions
var (
	_ store.Store   = (*Store)(nil)
	_ store.Opener  = (*Store)(nil)
	_ store.Session = (*Session)(nil)
	_ store.Tx      = (*tx)(nil)
)
