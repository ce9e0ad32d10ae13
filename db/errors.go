package db

import (
	"strings"

	"github.com/teranos/reel/errors"
)

// ErrDatabaseClosed marks writes attempted after Close, typically by a
// pipeline run that outlived shutdown.
var ErrDatabaseClosed = errors.New("database is closed")

// IsDatabaseClosed reports whether err is ErrDatabaseClosed or the
// database/sql "database is closed" error, which drivers return unwrapped.
func IsDatabaseClosed(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrDatabaseClosed) {
		return true
	}
	return strings.Contains(err.Error(), "database is closed")
}
