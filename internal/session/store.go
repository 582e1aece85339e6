package session

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"clinicgo/internal/models"
)

// SeedGreeting is the single assistant message present after startup and
// after every reset.
const SeedGreeting = "I am your clinical assistant. Enter a disease or symptom to start."

const seedMessageID = "init_msg"

// Store owns the message log, the query history and the id counter for one
// session. It holds no locks: reconciliation passes are strictly sequential
// and the reconciler serializes its callers.
type Store struct {
	db      *sql.DB
	counter int64
}

// NewStore seeds the greeting message and returns the store.
func NewStore(db *sql.DB) (*Store, error) {
	s := &Store{db: db}
	if err := s.seed(context.Background()); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) seed(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (msg_id, role, content, cached, created_at) VALUES (?, ?, ?, 0, ?)`,
		seedMessageID, models.RoleAssistant, SeedGreeting, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("seed greeting: %w", err)
	}
	return nil
}

// NextID returns a fresh "msg_{n}" identifier. The counter is monotonic and
// never reused within a session.
func (s *Store) NextID() string {
	s.counter++
	return fmt.Sprintf("msg_%d", s.counter)
}

// AppendMessage appends to the message log. No deduplication.
func (s *Store) AppendMessage(ctx context.Context, role models.Role, content, id string, cached bool) (models.Message, error) {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (msg_id, role, content, cached, created_at) VALUES (?, ?, ?, ?, ?)`,
		id, role, content, cached, now,
	)
	if err != nil {
		return models.Message{}, fmt.Errorf("insert message: %w", err)
	}
	return models.Message{ID: id, Role: role, Content: content, Cached: cached, CreatedAt: now}, nil
}

// AppendHistory appends a history entry unless the most recently appended
// entry already carries the same query. Suppression is adjacent only: the
// same query after other queries in between creates a new entry, since the
// user may intentionally re-ask.
func (s *Store) AppendHistory(ctx context.Context, label, query, id string) (bool, error) {
	var lastQuery string
	err := s.db.QueryRowContext(ctx,
		`SELECT query FROM history ORDER BY seq DESC LIMIT 1`,
	).Scan(&lastQuery)
	if err != nil && err != sql.ErrNoRows {
		return false, fmt.Errorf("last history query: %w", err)
	}
	if err == nil && lastQuery == query {
		return false, nil
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO history (entry_id, label, query, response, created_at) VALUES (?, ?, ?, '', ?)`,
		id, label, query, time.Now().UTC(),
	)
	if err != nil {
		return false, fmt.Errorf("insert history: %w", err)
	}
	return true, nil
}

// FindHistoryByQuery returns the newest completed entry for the query, or
// nil. Entries without a response are in flight or failed and never match,
// so a retried query hits the engine again instead of replaying a failure.
func (s *Store) FindHistoryByQuery(ctx context.Context, query string) (*models.HistoryEntry, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT entry_id, label, query, response, created_at FROM history
		 WHERE query = ? AND response <> '' ORDER BY seq DESC LIMIT 1`,
		query,
	)
	return scanHistory(row)
}

// FindHistoryByID returns the entry with the given id, or nil.
func (s *Store) FindHistoryByID(ctx context.Context, id string) (*models.HistoryEntry, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT entry_id, label, query, response, created_at FROM history
		 WHERE entry_id = ? ORDER BY seq DESC LIMIT 1`,
		id,
	)
	return scanHistory(row)
}

// FindMessageByID returns the message carrying the given anchor id, or nil.
func (s *Store) FindMessageByID(ctx context.Context, id string) (*models.Message, error) {
	if id == "" {
		return nil, nil
	}
	var m models.Message
	err := s.db.QueryRowContext(ctx,
		`SELECT msg_id, role, content, cached, created_at FROM messages WHERE msg_id = ? LIMIT 1`,
		id,
	).Scan(&m.ID, &m.Role, &m.Content, &m.Cached, &m.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find message: %w", err)
	}
	return &m, nil
}

// SetResponse records the terminal answer on the most recent entry for the
// query. Calling it twice with the same answer is a no-op in effect.
func (s *Store) SetResponse(ctx context.Context, query, answer string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE history SET response = ?
		 WHERE seq = (SELECT MAX(seq) FROM history WHERE query = ?)`,
		answer, query,
	)
	if err != nil {
		return fmt.Errorf("set response: %w", err)
	}
	return nil
}

// Messages returns the full log in append order.
func (s *Store) Messages(ctx context.Context) ([]models.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT msg_id, role, content, cached, created_at FROM messages ORDER BY seq ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var messages []models.Message
	for rows.Next() {
		var m models.Message
		if err := rows.Scan(&m.ID, &m.Role, &m.Content, &m.Cached, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

// History returns the entries in append order; the sidebar renders them in
// reverse.
func (s *Store) History(ctx context.Context) ([]models.HistoryEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT entry_id, label, query, response, created_at FROM history ORDER BY seq ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	defer rows.Close()

	var entries []models.HistoryEntry
	for rows.Next() {
		var e models.HistoryEntry
		if err := rows.Scan(&e.ID, &e.Label, &e.Query, &e.Response, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan history: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Reset clears both logs back to the seed greeting and restarts the id
// counter, so the next generated id is msg_1 again.
func (s *Store) Reset(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM messages`); err != nil {
		return fmt.Errorf("clear messages: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM history`); err != nil {
		return fmt.Errorf("clear history: %w", err)
	}
	s.counter = 0
	return s.seed(ctx)
}

func scanHistory(row *sql.Row) (*models.HistoryEntry, error) {
	var e models.HistoryEntry
	err := row.Scan(&e.ID, &e.Label, &e.Query, &e.Response, &e.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan history entry: %w", err)
	}
	return &e, nil
}
