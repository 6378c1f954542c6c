package store

import (
	"fmt"
	"time"
)

const messageColumns = `id, chat_jid, msg_id, direction, sender_jid, body, message_type, chat_name, timestamp`

// InsertMessage appends a message. A second insert with the same chat_jid and
// msg_id is a no-op; inserted reports whether a row was written. On insert
// m.ID is set.
func (db *DB) InsertMessage(m *Message) (inserted bool, err error) {
	if m.ChatJID == "" || m.MsgID == "" {
		return false, fmt.Errorf("insert message: chat and message id are required")
	}
	if m.Direction != DirectionIn && m.Direction != DirectionOut {
		return false, fmt.Errorf("insert message: invalid direction %q", m.Direction)
	}
	if m.MessageType == "" {
		m.MessageType = "text"
	}
	now := time.Now().UnixMilli()
	if m.Timestamp == 0 {
		m.Timestamp = now
	}
	res, err := db.Exec(`
		INSERT INTO messages (chat_jid, msg_id, direction, sender_jid, body, message_type, chat_name, timestamp, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(chat_jid, msg_id) DO NOTHING`,
		m.ChatJID, m.MsgID, m.Direction, m.SenderJID, m.Body, m.MessageType, m.ChatName, m.Timestamp, now)
	if err != nil {
		return false, fmt.Errorf("insert message: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert message: %w", err)
	}
	if n == 0 {
		return false, nil
	}
	if id, err := res.LastInsertId(); err == nil {
		m.ID = id
	}
	return true, nil
}

// GetMessage returns one message, or nil when absent.
func (db *DB) GetMessage(chatJID, msgID string) (*Message, error) {
	rows, err := db.Query(`SELECT `+messageColumns+` FROM messages WHERE chat_jid = ? AND msg_id = ?`, chatJID, msgID)
	if err != nil {
		return nil, err
	}
	msgs, err := scanMessages(rows)
	if err != nil || len(msgs) == 0 {
		return nil, err
	}
	return &msgs[0], nil
}

// ListMessages returns messages for a chat using keyset pagination by timestamp,
// newest first.
func (db *DB) ListMessages(chatJID string, beforeTs int64, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 50
	}
	if beforeTs <= 0 {
		beforeTs = time.Now().UnixMilli() + 1
	}
	rows, err := db.Query(`
		SELECT `+messageColumns+`
		FROM messages
		WHERE chat_jid = ? AND timestamp < ?
		ORDER BY timestamp DESC, id DESC
		LIMIT ?`, chatJID, beforeTs, limit)
	if err != nil {
		return nil, err
	}
	return scanMessages(rows)
}

// RecentMessages returns the last limit messages of a chat, oldest first.
func (db *DB) RecentMessages(chatJID string, limit int) ([]Message, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := db.Query(`
		SELECT `+messageColumns+` FROM (
			SELECT `+messageColumns+`
			FROM messages
			WHERE chat_jid = ?
			ORDER BY timestamp DESC, id DESC
			LIMIT ?
		) ORDER BY timestamp ASC, id ASC`, chatJID, limit)
	if err != nil {
		return nil, err
	}
	return scanMessages(rows)
}

// MessageCount returns the total number of stored messages.
func (db *DB) MessageCount() (int, error) {
	var n int
	err := db.QueryRow(`SELECT COUNT(*) FROM messages`).Scan(&n)
	return n, err
}

type rowScanner interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
	Close() error
}

func scanMessages(rows rowScanner) ([]Message, error) {
	defer func() { _ = rows.Close() }()

	var msgs []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.ChatJID, &m.MsgID, &m.Direction, &m.SenderJID, &m.Body, &m.MessageType, &m.ChatName, &m.Timestamp); err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}
