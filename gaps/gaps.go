// Package gaps stores gap tickets: work items for missing or degraded data.
//
// Tickets come from three places: drift breaches, connectors that tripped
// the circuit breaker, and manual filing. A ticket may carry a dedup key;
// while an open ticket with that key exists, Open returns it instead of
// creating another.
package gaps

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hazyhaar/datatrack/dbopen"
	"github.com/hazyhaar/datatrack/idgen"
)

// ErrTicketNotFound is returned when a ticket ID does not exist.
var ErrTicketNotFound = errors.New("gaps: ticket not found")

// ErrInvalidTicket is returned when a ticket is missing required fields.
var ErrInvalidTicket = errors.New("gaps: invalid ticket")

// Priority of a ticket.
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityMedium   Priority = "medium"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// Status of a ticket.
type Status string

const (
	StatusOpen   Status = "open"
	StatusClosed Status = "closed"
)

// Origin records which subsystem filed the ticket.
type Origin string

const (
	OriginDrift     Origin = "drift"
	OriginIngestion Origin = "ingestion"
	OriginManual    Origin = "manual"
)

// Ticket is the shape exposed to downstream consumers.
type Ticket struct {
	ID           string     `json:"id"`
	MissingItem  string     `json:"missingItem"`
	WhyItMatters string     `json:"whyItMatters"`
	Priority     Priority   `json:"priority"`
	Status       Status     `json:"status"`
	Origin       Origin     `json:"origin"`
	MetricRef    string     `json:"metricRef,omitempty"`
	DedupKey     string     `json:"dedupKey,omitempty"`
	CreatedAt    time.Time  `json:"createdAt"`
	ClosedAt     *time.Time `json:"closedAt,omitempty"`
}

// Schema is applied by ApplySchema.
const Schema = `
CREATE TABLE IF NOT EXISTS gap_tickets (
    id             TEXT PRIMARY KEY,
    missing_item   TEXT NOT NULL,
    why_it_matters TEXT NOT NULL DEFAULT '',
    priority       TEXT NOT NULL DEFAULT 'medium',
    status         TEXT NOT NULL DEFAULT 'open',
    origin         TEXT NOT NULL DEFAULT 'manual',
    metric_ref     TEXT NOT NULL DEFAULT '',
    dedup_key      TEXT NOT NULL DEFAULT '',
    created_at     INTEGER NOT NULL,
    closed_at      INTEGER
);
CREATE INDEX IF NOT EXISTS idx_gap_tickets_status ON gap_tickets(status, created_at DESC);
CREATE UNIQUE INDEX IF NOT EXISTS idx_gap_tickets_open_dedup
    ON gap_tickets(dedup_key) WHERE status = 'open' AND dedup_key != '';
`

// ApplySchema creates the gap_tickets table.
func ApplySchema(db *sql.DB) error {
	_, err := db.Exec(Schema)
	return err
}

// Store is the gap ticket repository.
type Store struct {
	db     *sql.DB
	newID  idgen.Generator
	now    func() time.Time
	logger *slog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithIDGenerator overrides ticket ID generation.
func WithIDGenerator(g idgen.Generator) Option { return func(s *Store) { s.newID = g } }

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option { return func(s *Store) { s.now = now } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(s *Store) { s.logger = l } }

// NewStore creates a Store.
func NewStore(db *sql.DB, opts ...Option) *Store {
	s := &Store{
		db:     db,
		newID:  idgen.Prefixed("gap_", idgen.Default),
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Open files t. If t.DedupKey is set and an open ticket with that key
// exists, the existing ticket is returned with created=false.
func (s *Store) Open(ctx context.Context, t *Ticket) (*Ticket, bool, error) {
	if t.MissingItem == "" {
		return nil, false, fmt.Errorf("%w: missingItem is required", ErrInvalidTicket)
	}
	if t.DedupKey != "" {
		existing, err := s.openByKey(ctx, t.DedupKey)
		if err != nil {
			return nil, false, err
		}
		if existing != nil {
			return existing, false, nil
		}
	}

	if t.ID == "" {
		t.ID = s.newID()
	}
	if t.Priority == "" {
		t.Priority = PriorityMedium
	}
	if t.Origin == "" {
		t.Origin = OriginManual
	}
	t.Status = StatusOpen
	t.CreatedAt = s.now().UTC()
	t.ClosedAt = nil

	_, err := dbopen.Exec(ctx, s.db,
		`INSERT INTO gap_tickets (id, missing_item, why_it_matters, priority, status,
		origin, metric_ref, dedup_key, created_at)
		VALUES (?, ?, ?, ?, 'open', ?, ?, ?, ?)`,
		t.ID, t.MissingItem, t.WhyItMatters, string(t.Priority),
		string(t.Origin), t.MetricRef, t.DedupKey, t.CreatedAt.UnixMilli(),
	)
	if err != nil {
		if t.DedupKey != "" && dbopen.IsConstraint(err) {
			// Lost the race against a concurrent Open with the same key.
			existing, gerr := s.openByKey(ctx, t.DedupKey)
			if gerr != nil {
				return nil, false, gerr
			}
			if existing != nil {
				return existing, false, nil
			}
		}
		return nil, false, fmt.Errorf("gaps: insert: %w", err)
	}
	s.logger.Info("gaps: ticket opened", "ticket_id", t.ID, "origin", t.Origin,
		"priority", t.Priority, "dedup_key", t.DedupKey)
	return t, true, nil
}

// Close marks a ticket closed. Closing a closed ticket is a no-op.
func (s *Store) Close(ctx context.Context, id string) (*Ticket, error) {
	t, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if t.Status == StatusClosed {
		return t, nil
	}
	now := s.now().UTC()
	if _, err := dbopen.Exec(ctx, s.db,
		`UPDATE gap_tickets SET status = 'closed', closed_at = ? WHERE id = ?`,
		now.UnixMilli(), id,
	); err != nil {
		return nil, fmt.Errorf("gaps: close: %w", err)
	}
	t.Status = StatusClosed
	t.ClosedAt = &now
	return t, nil
}

// CloseByKey closes the open ticket carrying key, if any. It returns nil
// when no open ticket has that key.
func (s *Store) CloseByKey(ctx context.Context, key string) (*Ticket, error) {
	if key == "" {
		return nil, nil
	}
	t, err := s.openByKey(ctx, key)
	if err != nil || t == nil {
		return nil, err
	}
	return s.Close(ctx, t.ID)
}

// Get returns a ticket by ID.
func (s *Store) Get(ctx context.Context, id string) (*Ticket, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+ticketColumns+` FROM gap_tickets WHERE id = ?`, id)
	t, err := scanTicket(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrTicketNotFound
	}
	return t, err
}

// ListFilter narrows List.
type ListFilter struct {
	Status Status
	Origin Origin
	Limit  int
}

// List returns tickets newest first.
func (s *Store) List(ctx context.Context, f ListFilter) ([]*Ticket, error) {
	q := `SELECT ` + ticketColumns + ` FROM gap_tickets WHERE 1=1`
	var args []any
	if f.Status != "" {
		q += ` AND status = ?`
		args = append(args, string(f.Status))
	}
	if f.Origin != "" {
		q += ` AND origin = ?`
		args = append(args, string(f.Origin))
	}
	q += ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		q += ` LIMIT ?`
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("gaps: list: %w", err)
	}
	defer rows.Close()

	var out []*Ticket
	for rows.Next() {
		t, err := scanTicket(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// CountOpen returns the number of open tickets.
func (s *Store) CountOpen(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM gap_tickets WHERE status = 'open'`).Scan(&n)
	return n, err
}

func (s *Store) openByKey(ctx context.Context, key string) (*Ticket, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+ticketColumns+` FROM gap_tickets WHERE dedup_key = ? AND status = 'open' LIMIT 1`, key)
	t, err := scanTicket(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return t, err
}

const ticketColumns = `id, missing_item, why_it_matters, priority, status, origin,
	metric_ref, dedup_key, created_at, closed_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanTicket(sc scanner) (*Ticket, error) {
	var t Ticket
	var priority, status, origin string
	var created int64
	var closed sql.NullInt64
	err := sc.Scan(&t.ID, &t.MissingItem, &t.WhyItMatters, &priority, &status, &origin,
		&t.MetricRef, &t.DedupKey, &created, &closed)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("gaps: scan ticket: %w", err)
	}
	t.Priority = Priority(priority)
	t.Status = Status(status)
	t.Origin = Origin(origin)
	t.CreatedAt = time.UnixMilli(created).UTC()
	if closed.Valid {
		c := time.UnixMilli(closed.Int64).UTC()
		t.ClosedAt = &c
	}
	return &t, nil
}
