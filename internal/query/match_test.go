package query

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decode(t *testing.T, s string) map[string]any {
	t.Helper()
	var out map[string]any
	dec := json.NewDecoder(strings.NewReader(s))
	dec.UseNumber()
	require.NoError(t, dec.Decode(&out))
	return out
}

func TestMatch(t *testing.T) {
	row := decode(t, `{"id": 42, "owner_id": "u1", "deleted": false, "assigned_to": ["u2", "u3"]}`)

	tests := []struct {
		name   string
		filter Filter
		want   bool
	}{
		{"empty filter", New(), true},
		{"eq string", New().Eq("owner_id", "u1"), true},
		{"eq string mismatch", New().Eq("owner_id", "u2"), false},
		{"eq bool", New().Eq("deleted", "false"), true},
		{"eq integer", New().Eq("id", "42"), true},
		{"neq", New().Neq("owner_id", "u2"), true},
		{"neq missing column", New().Neq("nope", "x"), true},
		{"eq missing column", New().Eq("nope", "x"), false},
		{"in", New().In("id", "1", "42"), true},
		{"in miss", New().In("id", "1", "2"), false},
		{"contains", New().Contains("assigned_to", "u3"), true},
		{"contains miss", New().Contains("assigned_to", "u9"), false},
		{"contains on scalar", New().Contains("owner_id", "u1"), false},
		{"conjunction", New().Eq("owner_id", "u1").Eq("deleted", "true"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.filter.Match(row))
		})
	}
}

func TestMatch_PlainFloatNumbers(t *testing.T) {
	// Rows decoded without UseNumber carry float64.
	row := map[string]any{"id": float64(7)}
	assert.True(t, New().Eq("id", "7").Match(row))
}
