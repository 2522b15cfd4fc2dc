package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aristath/hq/internal/comms"
)

const messageColumns = `id, sender, recipient, type, priority, content, status, responds_to, context, created_at`

// InsertMessage stores a new message.
func (s *SQLiteStore) InsertMessage(ctx context.Context, m *comms.Message) error {
	mctx, err := encodeJSON(m.Context)
	if err != nil {
		return fmt.Errorf("failed to encode message context: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO messages (`+messageColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, m.ID, m.From, m.To, string(m.Type), string(m.Priority), m.Content, int(m.Status),
		m.RespondsTo, mctx, toNanos(m.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to insert message: %w", err)
	}
	return nil
}

// GetMessage retrieves a message by id.
func (s *SQLiteStore) GetMessage(ctx context.Context, id string) (*comms.Message, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+messageColumns+` FROM messages WHERE id = ?`, id)
	m, err := scanMessage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", comms.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query message: %w", err)
	}
	return m, nil
}

// UpdateMessageStatus sets the status of a message.
func (s *SQLiteStore) UpdateMessageStatus(ctx context.Context, id string, status comms.Status) error {
	res, err := s.db.ExecContext(ctx, `UPDATE messages SET status = ? WHERE id = ?`, int(status), id)
	if err != nil {
		return fmt.Errorf("failed to update message status: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: %s", comms.ErrNotFound, id)
	}
	return nil
}

// ListMessages returns messages matching f, newest first.
func (s *SQLiteStore) ListMessages(ctx context.Context, f comms.Filter) ([]*comms.Message, error) {
	var conds []string
	var args []any

	if f.To != "" {
		conds = append(conds, `recipient = ?`)
		args = append(args, f.To)
	}
	if len(f.Statuses) > 0 {
		conds = append(conds, `status IN (`+placeholders(len(f.Statuses))+`)`)
		for _, st := range f.Statuses {
			args = append(args, int(st))
		}
	}
	if f.Participant != "" {
		if f.Peer != "" {
			conds = append(conds, `((sender = ? AND recipient = ?) OR (sender = ? AND recipient = ?))`)
			args = append(args, f.Participant, f.Peer, f.Peer, f.Participant)
		} else {
			conds = append(conds, `(sender = ? OR recipient = ?)`)
			args = append(args, f.Participant, f.Participant)
		}
	}

	query := `SELECT ` + messageColumns + ` FROM messages`
	if len(conds) > 0 {
		query += ` WHERE ` + strings.Join(conds, " AND ")
	}
	query += ` ORDER BY created_at DESC, rowid DESC`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	var msgs []*comms.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating messages: %w", err)
	}
	return msgs, nil
}

// DeleteMessagesBefore removes messages created before cutoff and returns
// how many were removed.
func (s *SQLiteStore) DeleteMessagesBefore(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM messages WHERE created_at < ?`, toNanos(cutoff))
	if err != nil {
		return 0, fmt.Errorf("failed to delete messages: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return int(n), nil
}

// MessageStats counts messages by recipient and by type.
func (s *SQLiteStore) MessageStats(ctx context.Context) (comms.Stats, error) {
	st := comms.Stats{ByTo: make(map[string]int), ByType: make(map[comms.Type]int)}

	rows, err := s.db.QueryContext(ctx, `SELECT recipient, type, COUNT(*) FROM messages GROUP BY recipient, type`)
	if err != nil {
		return st, fmt.Errorf("failed to query message stats: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var to, typ string
		var n int
		if err := rows.Scan(&to, &typ, &n); err != nil {
			return st, fmt.Errorf("failed to scan message stats: %w", err)
		}
		st.Total += n
		st.ByTo[to] += n
		st.ByType[comms.Type(typ)] += n
	}
	if err := rows.Err(); err != nil {
		return st, fmt.Errorf("error iterating message stats: %w", err)
	}
	return st, nil
}

func scanMessage(sc scanner) (*comms.Message, error) {
	var m comms.Message
	var typ, priority, mctx string
	var status int
	var created int64
	err := sc.Scan(&m.ID, &m.From, &m.To, &typ, &priority, &m.Content, &status, &m.RespondsTo, &mctx, &created)
	if err != nil {
		return nil, err
	}
	m.Type = comms.Type(typ)
	m.Priority = comms.Priority(priority)
	m.Status = comms.Status(status)
	m.CreatedAt = fromNanos(created)
	if err := decodeJSON(mctx, &m.Context); err != nil {
		return nil, fmt.Errorf("decode context of message %s: %w", m.ID, err)
	}
	return &m, nil
}
