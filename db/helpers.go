package db

import "errors"

// ErrNoLastInsertID is returned when a driver cannot report the id of a
// freshly inserted row.
var ErrNoLastInsertID = errors.New("db: insert did not report a last insert id")

// GetDB returns the underlying DBTX interface from a Queries object.
// This allows access to raw SQL query methods like QueryRowContext, QueryContext, and ExecContext.
func (q *Queries) GetDB() DBTX {
	return q.db
}

// LastInsertID extracts the auto-increment id from an :execresult query.
func LastInsertID(result interface{ LastInsertId() (int64, error) }) (int64, error) {
	id, err := result.LastInsertId()
	if err != nil {
		return 0, err
	}
	if id == 0 {
		return 0, ErrNoLastInsertID
	}
	return id, nil
}
