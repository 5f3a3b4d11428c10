package storage

import (
	"encoding/base64"
	"fmt"
	"strings"
	"time"
)

// Cursor points at the last record of a page
type Cursor struct {
	CreatedAt time.Time
	ID        string
}

// DecodeCursor parses an opaque page cursor. An empty string yields nil.
func DecodeCursor(cursorStr string) (*Cursor, error) {
	if cursorStr == "" {
		return nil, nil
	}

	decoded, err := base64.StdEncoding.DecodeString(cursorStr)
	if err != nil {
		return nil, err
	}

	parts := strings.Split(string(decoded), "|")
	if len(parts) != 2 || parts[1] == "" {
		return nil, fmt.Errorf("invalid cursor format")
	}

	var createdAt int64
	if _, err := fmt.Sscanf(parts[0], "%d", &createdAt); err != nil {
		return nil, fmt.Errorf("invalid createdAt in cursor: %w", err)
	}

	return &Cursor{
		CreatedAt: time.Unix(0, createdAt),
		ID:        parts[1],
	}, nil
}

// EncodeCursor renders the cursor for the record r
func EncodeCursor(r *Record) string {
	cs := fmt.Sprintf("%d|%s", r.CreatedAt.UnixNano(), r.ID)
	return base64.StdEncoding.EncodeToString([]byte(cs))
}

// before reports whether (createdAt, id) sorts strictly before the cursor
// in descending order, i.e. belongs on a later page
func (c *Cursor) before(createdAt time.Time, id string) bool {
	if createdAt.Equal(c.CreatedAt) {
		return id < c.ID
	}
	return createdAt.Before(c.CreatedAt)
}
