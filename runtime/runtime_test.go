package runtime

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsWriteStatement(t *testing.T) {
	tests := []struct {
		sql   string
		write bool
	}{
		{"SELECT * FROM events", false},
		{"select 1", false},
		{"WITH t AS (SELECT 1) SELECT * FROM t", false},
		{"EXPLAIN SELECT 1", false},
		{"SHOW TABLES", false},
		{"DESCRIBE events", false},
		{"VALUES (1)", false},
		{"INSERT INTO events VALUES (1)", true},
		{"insert into events values (1)", true},
		{"UPDATE events SET name = 'x'", true},
		{"DELETE FROM events", true},
		{"CREATE TABLE t (id INT)", true},
		{"DROP TABLE t", true},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.write, IsWriteStatement(tt.sql), "sql=%q", tt.sql)
	}
}
