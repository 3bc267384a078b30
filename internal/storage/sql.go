package storage

import (
	"encoding/json"
	"fmt"
	"strings"
)

// whereClause renders f as a SQL WHERE clause. ph returns the placeholder for
// the n-th (1-based) argument.
func whereClause(f Filter, ph func(n int) string) (string, []any) {
	var (
		terms []string
		args  []any
	)
	add := func(col string, v any) {
		args = append(args, v)
		terms = append(terms, col+" = "+ph(len(args)))
	}
	if f.ID != 0 {
		add("id", int64(f.ID))
	}
	if f.WorkspaceID != "" {
		add("workspace_id", f.WorkspaceID)
	}
	if f.ChannelID != "" {
		add("channel_id", f.ChannelID)
	}
	if len(terms) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(terms, " AND "), args
}

func sqlitePlaceholder(int) string { return "?" }

func pgPlaceholder(n int) string { return fmt.Sprintf("$%d", n) }

func decodeDoc(b []byte) (*Record, error) {
	var r Record
	if err := json.Unmarshal(b, &r); err != nil {
		return nil, fmt.Errorf("decode entry: %w", err)
	}
	return &r, nil
}
