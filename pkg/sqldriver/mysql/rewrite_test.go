package mysql

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRewriteRepeatsPositionalPlaceholderPerOccurrence(t *testing.T) {
	text, order := rewrite("SELECT * FROM accounts WHERE id = @id OR parent_id = @id AND region = @region")
	assert.Equal(t, "SELECT * FROM accounts WHERE id = ? OR parent_id = ? AND region = ?", text)
	assert.Equal(t, []string{"id", "id", "region"}, order)
}

func TestRewriteWithNoParameters(t *testing.T) {
	text, order := rewrite("SELECT 1")
	assert.Equal(t, "SELECT 1", text)
	assert.Empty(t, order)
}
