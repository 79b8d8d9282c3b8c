package repositories

import (
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
)

func TestPgErrorClassification(t *testing.T) {
	unique := fmt.Errorf("insert: %w", &pgconn.PgError{Code: "23505"})
	missing := &pgconn.PgError{Code: "42P01"}
	other := fmt.Errorf("dial tcp: refused")

	assert.True(t, IsUniqueViolation(unique))
	assert.False(t, IsUniqueViolation(missing))
	assert.True(t, IsUndefinedTable(missing))
	assert.False(t, IsUndefinedTable(other))
	assert.False(t, IsUniqueViolation(nil))
}

func TestNullHelpers(t *testing.T) {
	assert.Nil(t, nullIfEmpty(""))
	assert.Equal(t, "x", nullIfEmpty("x"))

	s := "stage"
	assert.Equal(t, "stage", deref(&s))
	assert.Equal(t, "", deref(nil))
}
