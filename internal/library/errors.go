package library

import (
	"errors"
	"strings"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

var (
	ErrNotFound        = errors.New("video not found")
	ErrFileMissing     = errors.New("video file missing on disk")
	ErrMissingSource   = errors.New("no video file or embed URL provided")
	ErrInvalidCategory = errors.New("category does not exist")
	ErrDuplicateID     = errors.New("video id already exists")
	ErrInvalidInput    = errors.New("invalid input")
)

// classify maps SQLite constraint violations to domain errors. Other errors
// pass through unchanged.
func classify(err error) error {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return err
	}

	code := se.Code()
	if code&0xff != sqlite3.SQLITE_CONSTRAINT {
		return err
	}
	switch {
	case code == sqlite3.SQLITE_CONSTRAINT_FOREIGNKEY || strings.Contains(se.Error(), "FOREIGN KEY"):
		return errors.Join(ErrInvalidCategory, err)
	case code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY || code == sqlite3.SQLITE_CONSTRAINT_UNIQUE ||
		strings.Contains(se.Error(), "UNIQUE"):
		return errors.Join(ErrDuplicateID, err)
	}
	return errors.Join(ErrInvalidInput, err)
}
