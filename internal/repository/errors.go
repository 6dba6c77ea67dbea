package repository

import (
	"database/sql"
	"fmt"
)

func errNoRows(entity, id string) error {
	return fmt.Errorf("%s %s: %w", entity, id, sql.ErrNoRows)
}
