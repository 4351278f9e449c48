package db_test

import (
	"testing"

	"github.com/lib/pq"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"

	"github.com/cobaltpay/custody/internal/util/db"
)

func TestIsUniqueViolation(t *testing.T) {
	uniqueErr := &pq.Error{Code: "23505", Constraint: "deposits_tx_hash_key"}

	assert.True(t, db.IsUniqueViolation(uniqueErr, "deposits_tx_hash_key"))
	assert.True(t, db.IsUniqueViolation(uniqueErr, ""), "empty constraint matches any unique violation")
	assert.False(t, db.IsUniqueViolation(uniqueErr, "wallets_owner_chain_token_key"))

	wrapped := errors.Wrap(uniqueErr, "failed to insert deposit")
	assert.True(t, db.IsUniqueViolation(wrapped, "deposits_tx_hash_key"))
}

func TestIsUniqueViolationOtherErrors(t *testing.T) {
	assert.False(t, db.IsUniqueViolation(nil, ""))
	assert.False(t, db.IsUniqueViolation(errors.New("plain"), ""))
	assert.False(t, db.IsUniqueViolation(&pq.Error{Code: "23503"}, ""), "foreign-key violation is not a unique violation")
}
