package migrations

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatements(t *testing.T) {
	script := `
-- header comment above the first statement
CREATE TABLE a (
    id TEXT PRIMARY KEY
);

-- another comment
INSERT INTO a VALUES ('x;y');
CREATE INDEX idx_a ON a (id)
`

	got := statements(script)
	require.Len(t, got, 3)

	// A comment header must not swallow the statement after it.
	assert.True(t, strings.HasPrefix(got[0], "CREATE TABLE"), "got %q", got[0])
	assert.Contains(t, got[1], "'x;y'", "semicolons inside literals stay intact")
	assert.True(t, strings.HasPrefix(got[2], "CREATE INDEX"), "trailing statement without semicolon")
}

func TestStatementsEmpty(t *testing.T) {
	assert.Empty(t, statements("-- only comments\n-- here\n"))
	assert.Empty(t, statements(""))
}
