package pagination

import (
	"encoding/base64"
	"errors"
	"strings"
)

const cursorVersion = "v1"

// Cursor marks the last item of the previous page in a stable id ordering.
type Cursor struct {
	LastID string
}

// PageResult represents a paginated result set
type PageResult[T any] struct {
	Items   []T    `json:"items"`
	Cursor  string `json:"cursor,omitempty"`
	HasMore bool   `json:"hasMore"`
}

var (
	ErrInvalidCursor = errors.New("invalid cursor format")
)

// EncodeCursor creates an opaque cursor from the last item ID
func EncodeCursor(lastID string) string {
	if lastID == "" {
		return ""
	}
	return base64.RawURLEncoding.EncodeToString([]byte(cursorVersion + "|" + lastID))
}

// DecodeCursor decodes a cursor. An empty cursor decodes to nil.
func DecodeCursor(cursor string) (*Cursor, error) {
	if cursor == "" {
		return nil, nil
	}

	decoded, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil {
		return nil, ErrInvalidCursor
	}

	version, lastID, ok := strings.Cut(string(decoded), "|")
	if !ok || version != cursorVersion || lastID == "" {
		return nil, ErrInvalidCursor
	}

	return &Cursor{LastID: lastID}, nil
}

// Paginate returns the page of items that follows cursor. Items must already be
// sorted by ascending id. A non-positive limit returns everything after cursor.
func Paginate[T any](items []T, cursor *Cursor, limit int, getID func(T) string) PageResult[T] {
	start := 0
	if cursor != nil {
		start = len(items)
		for i, item := range items {
			if getID(item) > cursor.LastID {
				start = i
				break
			}
		}
	}

	rest := items[start:]
	if limit <= 0 || len(rest) <= limit {
		return PageResult[T]{Items: rest}
	}

	page := rest[:limit]
	return PageResult[T]{
		Items:   page,
		Cursor:  EncodeCursor(getID(page[len(page)-1])),
		HasMore: true,
	}
}
