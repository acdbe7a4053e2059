package persistence

import (
	"fmt"
	"path/filepath"

	sessiondomain "github.com/sipeed/agentc/pkg/domain/session"
)

// Storage drivers accepted by Open.
const (
	DriverJSON   = "json"
	DriverSQLite = "sqlite"
)

// Open returns the session repository for driver rooted at dir, plus a
// closer for its resources.
func Open(driver, dir string) (sessiondomain.Repository, func() error, error) {
	switch driver {
	case DriverJSON, "":
		repo, err := NewSessionFileRepository(dir)
		if err != nil {
			return nil, nil, err
		}
		return repo, func() error { return nil }, nil
	case DriverSQLite:
		store, err := OpenSQLiteSessionStore(filepath.Join(dir, "sessions.db"))
		if err != nil {
			return nil, nil, err
		}
		return store, store.Close, nil
	}
	return nil, nil, fmt.Errorf("%w: %q", ErrUnknownDriver, driver)
}
