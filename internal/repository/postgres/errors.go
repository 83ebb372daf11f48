package postgres

import (
	"database/sql"
	"strings"

	"github.com/lib/pq"

	"optionsurface/pkg/errors"
)

// classify tags driver errors with the error kinds the sink layer retries on.
// Connection and resource classes are transient; data and schema errors are not.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return errors.Mark(err, errors.ErrNotFound)
	}

	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return err
	}

	code := string(pqErr.Code)
	switch {
	case strings.HasPrefix(code, "08"), // connection exception
		strings.HasPrefix(code, "53"),    // insufficient resources
		strings.HasPrefix(code, "57P"),   // operator intervention
		code == "40001", code == "40P01": // serialization failure, deadlock
		return errors.Mark(err, errors.ErrUnavailable)
	case code == "57014": // query canceled
		return errors.Mark(err, errors.ErrTimeout)
	case strings.HasPrefix(code, "22"), strings.HasPrefix(code, "23"), strings.HasPrefix(code, "42"):
		return errors.Mark(err, errors.ErrInvalidInput)
	}
	return err
}
