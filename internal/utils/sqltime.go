package utils

import (
	"database/sql"
	"time"
)

// Timestamps are stored as unix milliseconds in INTEGER/BIGINT columns so the
// same queries work on sqlite and postgres.

// Millis converts t to unix milliseconds
func Millis(t time.Time) int64 {
	return t.UnixMilli()
}

// NullMillis converts t to unix milliseconds, or nil for a nil time
func NullMillis(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.UnixMilli()
}

// FromMillis converts unix milliseconds to a UTC time
func FromMillis(v int64) time.Time {
	return time.UnixMilli(v).UTC()
}

// FromNullMillis converts a nullable millisecond column to a time pointer
func FromNullMillis(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := FromMillis(v.Int64)
	return &t
}

// NullString stores empty strings as NULL
func NullString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
