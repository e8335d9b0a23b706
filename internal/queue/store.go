package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/marketpulse/pulse/internal/database"
	"github.com/marketpulse/pulse/internal/utils"
	"github.com/uptrace/bun"
)

const jobColumns = `id, job_type, payload, priority, status, attempts, max_attempts, dedupe_key,
	error_message, scheduled_at, started_at, completed_at, expires_at, created_at, updated_at`

// claimQuery moves the single best eligible job to processing in one statement.
// The outer status predicate keeps the update a no-op if another claimer won the row.
// %s is the row-locking clause for the inner select (postgres only).
const claimQuery = `
UPDATE jobs
SET status = 'processing', attempts = attempts + 1, started_at = ?, updated_at = ?
WHERE id = (
	SELECT id FROM jobs
	WHERE status IN ('pending', 'retry')
		AND scheduled_at <= ?
		AND attempts < max_attempts
	ORDER BY priority ASC, scheduled_at ASC, created_at ASC
	LIMIT 1
	%s
)
AND status IN ('pending', 'retry')
RETURNING ` + jobColumns

// Store persists jobs. All timestamps are unix milliseconds.
type Store struct {
	db         *bun.DB
	claimQuery string
}

// NewStore creates a job store on db
func NewStore(db *database.DB) *Store {
	lock := ""
	if db.Driver() == database.DriverPostgres {
		lock = "FOR UPDATE SKIP LOCKED"
	}
	return &Store{
		db:         db.Bun(),
		claimQuery: fmt.Sprintf(claimQuery, lock),
	}
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanJob(row rowScanner) (*Job, error) {
	var (
		job                               Job
		payload                           string
		dedupeKey, errorMessage           sql.NullString
		scheduledAt, createdAt, updatedAt int64
		startedAt, completedAt, expiresAt sql.NullInt64
	)

	err := row.Scan(
		&job.ID, &job.Type, &payload, &job.Priority, &job.Status, &job.Attempts, &job.MaxAttempts,
		&dedupeKey, &errorMessage, &scheduledAt, &startedAt, &completedAt, &expiresAt, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	job.Payload = []byte(payload)
	job.DedupeKey = dedupeKey.String
	job.ErrorMessage = errorMessage.String
	job.ScheduledAt = utils.FromMillis(scheduledAt)
	job.StartedAt = utils.FromNullMillis(startedAt)
	job.CompletedAt = utils.FromNullMillis(completedAt)
	job.ExpiresAt = utils.FromNullMillis(expiresAt)
	job.CreatedAt = utils.FromMillis(createdAt)
	job.UpdatedAt = utils.FromMillis(updatedAt)

	return &job, nil
}

// Insert stores a new job. With a dedupe key set it returns false, nil when an
// active job already holds the key.
func (s *Store) Insert(ctx context.Context, job *Job) (bool, error) {
	query := `
		INSERT INTO jobs (` + jobColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT DO NOTHING
	`

	result, err := s.db.ExecContext(ctx, query,
		job.ID, string(job.Type), string(job.Payload), job.Priority, string(job.Status),
		job.Attempts, job.MaxAttempts, utils.NullString(job.DedupeKey), utils.NullString(job.ErrorMessage),
		utils.Millis(job.ScheduledAt), utils.NullMillis(job.StartedAt), utils.NullMillis(job.CompletedAt),
		utils.NullMillis(job.ExpiresAt), utils.Millis(job.CreatedAt), utils.Millis(job.UpdatedAt),
	)
	if err != nil {
		return false, fmt.Errorf("failed to insert job: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rows == 1, nil
}

// Claim atomically takes the next eligible job at now, or returns nil, nil
func (s *Store) Claim(ctx context.Context, now time.Time) (*Job, error) {
	ts := utils.Millis(now)

	job, err := scanJob(s.db.QueryRowContext(ctx, s.claimQuery, ts, ts, ts))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to claim job: %w", err)
	}
	return job, nil
}

// Get returns the job with id, or ErrNotFound
func (s *Store) Get(ctx context.Context, id string) (*Job, error) {
	job, err := scanJob(s.db.QueryRowContext(ctx, "SELECT "+jobColumns+" FROM jobs WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job %s: %w", id, err)
	}
	return job, nil
}

// anyAttempt disables the attempt check of a report
const anyAttempt = -1

// reportGuard builds the WHERE suffix for a report on a job. attempts pins the
// row to one attempt unless it is anyAttempt. claimed further requires the row
// to still be processing, so a worker whose claim was reset and handed to
// another worker cannot move the job.
func reportGuard(attempts int, claimed bool) (string, []interface{}) {
	clause := "status IN ('pending', 'processing', 'retry')"
	if claimed {
		clause = "status = 'processing'"
	}
	if attempts == anyAttempt {
		return clause, nil
	}
	return clause + " AND attempts = ?", []interface{}{attempts}
}

// MarkCompleted finishes a job and returns its updated row, or nil when the
// guard matched nothing
func (s *Store) MarkCompleted(ctx context.Context, id string, attempts int, claimed bool, now time.Time) (*Job, error) {
	guard, guardArgs := reportGuard(attempts, claimed)
	args := append([]interface{}{utils.Millis(now), utils.Millis(now), id}, guardArgs...)

	job, err := scanJob(s.db.QueryRowContext(ctx, `
		UPDATE jobs
		SET status = 'completed', completed_at = ?, updated_at = ?
		WHERE id = ? AND `+guard+`
		RETURNING `+jobColumns, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to complete job %s: %w", id, err)
	}
	return job, nil
}

// MarkRetry schedules another attempt. Returns false when the guard matched
// nothing.
func (s *Store) MarkRetry(ctx context.Context, id string, attempts int, claimed bool, message string, next, now time.Time) (bool, error) {
	guard, guardArgs := reportGuard(attempts, claimed)
	args := append([]interface{}{utils.Millis(next), message, utils.Millis(now), id}, guardArgs...)

	result, err := s.db.ExecContext(ctx, `
		UPDATE jobs
		SET status = 'retry', scheduled_at = ?, error_message = ?, started_at = NULL, updated_at = ?
		WHERE id = ? AND `+guard, args...)
	if err != nil {
		return false, fmt.Errorf("failed to schedule retry for job %s: %w", id, err)
	}
	return affected(result)
}

// MarkFailed moves a job to failed under the same guard as MarkRetry
func (s *Store) MarkFailed(ctx context.Context, id string, attempts int, claimed bool, message string, now time.Time) (bool, error) {
	guard, guardArgs := reportGuard(attempts, claimed)
	args := append([]interface{}{message, utils.Millis(now), utils.Millis(now), id}, guardArgs...)

	result, err := s.db.ExecContext(ctx, `
		UPDATE jobs
		SET status = 'failed', error_message = ?, completed_at = ?, updated_at = ?
		WHERE id = ? AND `+guard, args...)
	if err != nil {
		return false, fmt.Errorf("failed to mark job %s failed: %w", id, err)
	}
	return affected(result)
}

// List returns jobs matching filter, newest first
func (s *Store) List(ctx context.Context, filter Filter) ([]Job, error) {
	var (
		where []string
		args  []interface{}
	)
	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(filter.Status))
	}
	if filter.Type != "" {
		where = append(where, "job_type = ?")
		args = append(args, string(filter.Type))
	}

	query := "SELECT " + jobColumns + " FROM jobs"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}

	limit := filter.Limit
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	query += " ORDER BY created_at DESC, id ASC LIMIT ? OFFSET ?"
	args = append(args, limit, filter.Offset)

	return s.queryJobs(ctx, query, args...)
}

// CountByStatus returns the number of jobs in each status
func (s *Store) CountByStatus(ctx context.Context) (map[Status]int, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT status, COUNT(*) FROM jobs GROUP BY status")
	if err != nil {
		return nil, fmt.Errorf("failed to count jobs: %w", err)
	}
	defer rows.Close()

	counts := make(map[Status]int, len(AllStatuses))
	for _, status := range AllStatuses {
		counts[status] = 0
	}
	for rows.Next() {
		var (
			status Status
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("failed to scan job count: %w", err)
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

// RescheduleRetries makes every retry job eligible at now
func (s *Store) RescheduleRetries(ctx context.Context, now time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET scheduled_at = ?, updated_at = ?
		WHERE status = 'retry' AND scheduled_at > ?
	`, utils.Millis(now), utils.Millis(now), utils.Millis(now))
	if err != nil {
		return 0, fmt.Errorf("failed to reschedule retry jobs: %w", err)
	}
	return result.RowsAffected()
}

// ResetStuck recovers processing jobs started before cutoff. Jobs with attempts
// left go back to pending; exhausted jobs fail.
func (s *Store) ResetStuck(ctx context.Context, cutoff, now time.Time) (ResetResult, error) {
	var res ResetResult

	err := database.WithTransaction(ctx, s.db, func(tx bun.Tx) error {
		failed, err := tx.ExecContext(ctx, `
			UPDATE jobs
			SET status = 'failed', error_message = 'stuck in processing', completed_at = ?, updated_at = ?
			WHERE status = 'processing' AND started_at < ? AND attempts >= max_attempts
		`, utils.Millis(now), utils.Millis(now), utils.Millis(cutoff))
		if err != nil {
			return fmt.Errorf("failed to fail exhausted stuck jobs: %w", err)
		}
		if res.Failed, err = failed.RowsAffected(); err != nil {
			return err
		}

		requeued, err := tx.ExecContext(ctx, `
			UPDATE jobs
			SET status = 'pending', started_at = NULL, error_message = 'reset after stuck in processing',
				scheduled_at = ?, updated_at = ?
			WHERE status = 'processing' AND started_at < ?
		`, utils.Millis(now), utils.Millis(now), utils.Millis(cutoff))
		if err != nil {
			return fmt.Errorf("failed to requeue stuck jobs: %w", err)
		}
		res.Requeued, err = requeued.RowsAffected()
		return err
	})

	return res, err
}

// ExistsByDedupeKey reports whether any job with key is in one of statuses
// (any status when none are given)
func (s *Store) ExistsByDedupeKey(ctx context.Context, key string, statuses ...Status) (bool, error) {
	query := "SELECT COUNT(*) FROM jobs WHERE dedupe_key = ?"
	args := []interface{}{key}
	if len(statuses) > 0 {
		names := make([]string, len(statuses))
		for i, st := range statuses {
			names[i] = string(st)
		}
		query += " AND status IN (?)"
		args = append(args, bun.In(names))
	}

	var n int
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return false, fmt.Errorf("failed to look up dedupe key %s: %w", key, err)
	}
	return n > 0, nil
}

// ListTerminalBefore returns up to limit terminal jobs finished before cutoff
func (s *Store) ListTerminalBefore(ctx context.Context, cutoff time.Time, limit int) ([]Job, error) {
	return s.queryJobs(ctx, `
		SELECT `+jobColumns+` FROM jobs
		WHERE status IN ('completed', 'failed') AND completed_at < ?
		ORDER BY completed_at ASC
		LIMIT ?
	`, utils.Millis(cutoff), limit)
}

// DeleteTerminal removes the given jobs if they are still terminal
func (s *Store) DeleteTerminal(ctx context.Context, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	result, err := s.db.ExecContext(ctx,
		"DELETE FROM jobs WHERE id IN (?) AND status IN ('completed', 'failed')", bun.In(ids))
	if err != nil {
		return 0, fmt.Errorf("failed to delete archived jobs: %w", err)
	}
	return result.RowsAffected()
}

func (s *Store) queryJobs(ctx context.Context, query string, args ...interface{}) ([]Job, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query jobs: %w", err)
	}
	defer rows.Close()

	jobs := make([]Job, 0)
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		jobs = append(jobs, *job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating jobs: %w", err)
	}
	return jobs, nil
}

func affected(result sql.Result) (bool, error) {
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rows > 0, nil
}
