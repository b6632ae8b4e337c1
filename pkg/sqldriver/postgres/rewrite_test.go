package postgres

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRewriteDedupsRepeatedNamedParameters(t *testing.T) {
	text, order := rewrite("SELECT * FROM accounts WHERE id = @id OR parent_id = @id AND region = @region")
	assert.Equal(t, "SELECT * FROM accounts WHERE id = $1 OR parent_id = $1 AND region = $2", text)
	assert.Equal(t, []string{"id", "region"}, order)
}

func TestRewriteWithNoParameters(t *testing.T) {
	text, order := rewrite("SELECT 1")
	assert.Equal(t, "SELECT 1", text)
	assert.Empty(t, order)
}
