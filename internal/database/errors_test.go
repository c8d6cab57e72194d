package database

import (
	"testing"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"gorm.io/gorm"
)

func TestIsKeyConflictErr(t *testing.T) {
	assert.True(t, IsKeyConflictErr(ErrKeyConflict))
	assert.True(t, IsKeyConflictErr(errors.Wrap(&pgconn.PgError{Code: "23505"}, "insert")))
	assert.False(t, IsKeyConflictErr(&pgconn.PgError{Code: "23503"}))
	assert.False(t, IsKeyConflictErr(errors.New("boom")))
}

func TestIsCheckViolationErr(t *testing.T) {
	assert.True(t, IsCheckViolationErr(&pgconn.PgError{Code: "23514"}))
	assert.False(t, IsCheckViolationErr(&pgconn.PgError{Code: "23505"}))
}

func TestIsRecordNotFoundErr(t *testing.T) {
	assert.True(t, IsRecordNotFoundErr(gorm.ErrRecordNotFound))
	assert.True(t, IsRecordNotFoundErr(errors.Wrap(ErrNotFound, "lookup")))
	assert.False(t, IsRecordNotFoundErr(nil))
}
