package store

import (
	"strings"
	"unicode/utf8"
)

const snippetRadius = 32

// SearchMessages returns messages whose body contains query (case-insensitive
// for ASCII in SQLite), newest first, each with a snippet around the first match.
func (db *DB) SearchMessages(query string, chatJID string, limit int) ([]SearchResult, error) {
	if limit <= 0 {
		limit = 50
	}
	if strings.TrimSpace(query) == "" {
		return nil, nil
	}

	q := `SELECT ` + messageColumns + ` FROM messages WHERE body LIKE ? ESCAPE '\'`
	args := []any{"%" + escapeLike(query) + "%"}
	if chatJID != "" {
		q += " AND chat_jid = ?"
		args = append(args, chatJID)
	}
	q += " ORDER BY timestamp DESC, id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := db.Query(q, args...)
	if err != nil {
		return nil, err
	}
	msgs, err := scanMessages(rows)
	if err != nil {
		return nil, err
	}

	results := make([]SearchResult, 0, len(msgs))
	for _, m := range msgs {
		results = append(results, SearchResult{Message: m, Snippet: snippet(m.Body, query)})
	}
	return results, nil
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

// snippet marks the first match with << >> and trims the body around it.
func snippet(body, query string) string {
	i, j := indexFold(body, query)
	if i < 0 {
		return truncate(body, snippetRadius*2)
	}
	start := max(0, i-snippetRadius)
	for start > 0 && !utf8.RuneStart(body[start]) {
		start--
	}
	end := min(len(body), j+snippetRadius)
	for end < len(body) && !utf8.RuneStart(body[end]) {
		end++
	}
	var b strings.Builder
	if start > 0 {
		b.WriteString("...")
	}
	b.WriteString(body[start:i])
	b.WriteString("<<")
	b.WriteString(body[i:j])
	b.WriteString(">>")
	b.WriteString(body[j:end])
	if end < len(body) {
		b.WriteString("...")
	}
	return b.String()
}

// indexFold returns the byte range in body of the first case-insensitive
// match of query, or -1, -1. Case folding may change byte lengths, so the
// range is measured in body and never derived from len(query).
func indexFold(body, query string) (int, int) {
	n := utf8.RuneCountInString(query)
	if n == 0 {
		return -1, -1
	}
	for i := range body {
		j, k := i, 0
		for j < len(body) && k < n {
			_, size := utf8.DecodeRuneInString(body[j:])
			j += size
			k++
		}
		if k < n {
			break
		}
		if strings.EqualFold(body[i:j], query) {
			return i, j
		}
	}
	return -1, -1
}
