package store

import (
	"database/sql"
	"strings"
)

// ListChats derives chats from stored messages, most recently active first.
// The name is the latest non-empty chat_name, else the JID user part.
func (db *DB) ListChats(limit, offset int) ([]Chat, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.Query(`
		SELECT m.chat_jid,
			COALESCE((
				SELECT n.chat_name FROM messages n
				WHERE n.chat_jid = m.chat_jid AND n.chat_name != ''
				ORDER BY n.timestamp DESC, n.id DESC LIMIT 1
			), '') AS name,
			MAX(m.timestamp) AS last_at,
			(
				SELECT p.body FROM messages p
				WHERE p.chat_jid = m.chat_jid
				ORDER BY p.timestamp DESC, p.id DESC LIMIT 1
			) AS preview,
			COUNT(*) AS cnt
		FROM messages m
		GROUP BY m.chat_jid
		ORDER BY last_at DESC
		LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var chats []Chat
	for rows.Next() {
		var c Chat
		if err := rows.Scan(&c.JID, &c.Name, &c.LastMessageAt, &c.LastMessagePreview, &c.MessageCount); err != nil {
			return nil, err
		}
		c.Name = displayName(c.JID, c.Name)
		c.IsGroup = strings.HasSuffix(c.JID, "@g.us")
		c.LastMessagePreview = truncate(c.LastMessagePreview, 100)
		chats = append(chats, c)
	}
	return chats, rows.Err()
}

// ChatName returns the display name for a chat, falling back to the JID user part.
func (db *DB) ChatName(chatJID string) (string, error) {
	var name string
	err := db.QueryRow(`
		SELECT chat_name FROM messages
		WHERE chat_jid = ? AND chat_name != ''
		ORDER BY timestamp DESC, id DESC LIMIT 1`, chatJID).Scan(&name)
	if err != nil && err != sql.ErrNoRows {
		return "", err
	}
	return displayName(chatJID, name), nil
}

// ChatCount returns the number of distinct chats.
func (db *DB) ChatCount() (int, error) {
	var n int
	err := db.QueryRow(`SELECT COUNT(DISTINCT chat_jid) FROM messages`).Scan(&n)
	return n, err
}

func displayName(jid, name string) string {
	if name != "" {
		return name
	}
	user, _, _ := strings.Cut(jid, "@")
	return user
}

func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max]) + "..."
}
