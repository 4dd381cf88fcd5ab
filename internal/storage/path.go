package storage

import (
	"fmt"
	"path"
	"regexp"
	"time"

	"github.com/google/uuid"
)

var pathComponentPattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._-]{0,127}$`)

// SnapshotKey builds snapshots/<user>/<table>/<unix-nanos>-<uuid>.parquet.
func SnapshotKey(userID, table string, at time.Time, id uuid.UUID) (string, error) {
	if err := validatePathComponent(userID, "user id"); err != nil {
		return "", err
	}
	if err := validatePathComponent(table, "table name"); err != nil {
		return "", err
	}
	return path.Join(
		"snapshots",
		userID,
		table,
		fmt.Sprintf("%d-%s.parquet", at.UTC().UnixNano(), id.String()),
	), nil
}

func validatePathComponent(value, field string) error {
	if !pathComponentPattern.MatchString(value) {
		return fmt.Errorf("invalid %s: %q", field, value)
	}
	return nil
}
