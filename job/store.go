package job

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/teranos/reel/db"
	"github.com/teranos/reel/errors"
)

// SubscriberChannelBufferSize is the buffer size for subscriber channels
const SubscriberChannelBufferSize = 100

// DefaultListLimit caps List when no limit is given
const DefaultListLimit = 100

// Store persists jobs and fans out every write to subscribers.
type Store struct {
	db      *sql.DB
	dialect db.Dialect

	mu          sync.RWMutex
	subscribers []chan *Job
}

// NewStore creates a job store over an already migrated database
func NewStore(conn *sql.DB, dialect db.Dialect) *Store {
	return &Store{db: conn, dialect: dialect}
}

// DB returns the underlying connection
func (s *Store) DB() *sql.DB {
	return s.db
}

// Create inserts a new processing job
func (s *Store) Create(ctx context.Context, j *Job) error {
	if j.Status != StatusProcessing {
		return errors.NewInvalidRequestError("new job %s must be processing, got %s", j.ID, j.Status)
	}

	query := s.dialect.Rebind(`
		INSERT INTO generation_jobs (
			id, external_task_id, provider, kind, model, user_id,
			prompt, image_url, template, status,
			poll_attempts, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)

	_, err := s.db.ExecContext(ctx, query,
		j.ID,
		j.ExternalTaskID,
		j.Provider,
		string(j.Kind),
		j.Model,
		j.UserID,
		j.Prompt,
		j.ImageURL,
		j.Template,
		string(j.Status),
		j.PollAttempts,
		j.CreatedAt,
		j.UpdatedAt,
	)
	if err != nil {
		err = errors.Wrap(err, "failed to create job")
		err = errors.WithDetail(err, fmt.Sprintf("Job ID: %s", j.ID))
		err = errors.WithDetail(err, fmt.Sprintf("Task ID: %s", j.ExternalTaskID))
		return err
	}

	s.notify(j)
	return nil
}

// Get retrieves a job by ID
func (s *Store) Get(ctx context.Context, id string) (*Job, error) {
	query := s.dialect.Rebind(`SELECT ` + SelectColumns + ` FROM generation_jobs WHERE id = ?`)

	j, err := scanJob(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.NewNotFoundError("job %s", id)
	}
	if err != nil {
		return nil, errors.WithDetail(errors.Wrap(err, "failed to get job"), fmt.Sprintf("Job ID: %s", id))
	}
	return j, nil
}

// GetByTaskID retrieves a job by its provider task ID
func (s *Store) GetByTaskID(ctx context.Context, taskID string) (*Job, error) {
	query := s.dialect.Rebind(`SELECT ` + SelectColumns + ` FROM generation_jobs WHERE external_task_id = ?`)

	j, err := scanJob(s.db.QueryRowContext(ctx, query, taskID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.NewNotFoundError("job for task %s", taskID)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get job by task id")
	}
	return j, nil
}

// Update writes the job's mutable state. Only processing rows are
// writable: an update against a terminal row returns a conflict error and
// leaves it untouched.
func (s *Store) Update(ctx context.Context, j *Job) error {
	if err := j.CheckInvariants(); err != nil {
		return errors.Wrap(err, "refusing to persist job")
	}

	query := s.dialect.Rebind(`
		UPDATE generation_jobs
		SET status = ?,
		    result_url = ?,
		    error_message = ?,
		    storage_path = ?,
		    poll_attempts = ?,
		    duration_ms = ?,
		    updated_at = ?,
		    completed_at = ?
		WHERE id = ? AND status = 'processing'`)

	var completedAt sql.NullTime
	if j.CompletedAt != nil {
		completedAt = sql.NullTime{Time: *j.CompletedAt, Valid: true}
	}

	res, err := s.db.ExecContext(ctx, query,
		string(j.Status),
		nullString(j.ResultURL),
		nullString(j.ErrorMessage),
		nullString(j.StoragePath),
		j.PollAttempts,
		nullInt64(j.DurationMS, j.Status.IsTerminal()),
		j.UpdatedAt,
		completedAt,
		j.ID,
	)
	if err != nil {
		err = errors.Wrap(err, "failed to update job")
		err = errors.WithDetail(err, fmt.Sprintf("Job ID: %s", j.ID))
		err = errors.WithDetail(err, fmt.Sprintf("Status: %s", j.Status))
		return err
	}

	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to read rows affected")
	}
	if n == 0 {
		current, getErr := s.Get(ctx, j.ID)
		if getErr != nil {
			return getErr
		}
		return errors.NewConflictError("job %s is already %s", j.ID, current.Status)
	}

	s.notify(j)
	return nil
}

// Filter narrows List results
type Filter struct {
	Status Status
	UserID string
	Kind   Kind
	Limit  int
	Offset int
}

// List returns jobs newest first
func (s *Store) List(ctx context.Context, f Filter) ([]*Job, error) {
	var where []string
	var args []interface{}

	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(f.Status))
	}
	if f.UserID != "" {
		where = append(where, "user_id = ?")
		args = append(args, f.UserID)
	}
	if f.Kind != "" {
		where = append(where, "kind = ?")
		args = append(args, string(f.Kind))
	}

	query := `SELECT ` + SelectColumns + ` FROM generation_jobs`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY created_at DESC LIMIT ? OFFSET ?`

	limit := f.Limit
	if limit <= 0 {
		limit = DefaultListLimit
	}
	args = append(args, limit, f.Offset)

	rows, err := s.db.QueryContext(ctx, s.dialect.Rebind(query), args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list jobs")
	}
	defer rows.Close()

	return scanJobs(rows, "jobs")
}

// ListStale returns processing jobs not updated since olderThan, oldest first
func (s *Store) ListStale(ctx context.Context, olderThan time.Time, limit int) ([]*Job, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	query := s.dialect.Rebind(`SELECT ` + SelectColumns + `
		FROM generation_jobs
		WHERE status = 'processing' AND updated_at < ?
		ORDER BY updated_at ASC
		LIMIT ?`)

	rows, err := s.db.QueryContext(ctx, query, olderThan.UTC(), limit)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list stale jobs")
	}
	defer rows.Close()

	return scanJobs(rows, "stale jobs")
}

// Counts returns the number of jobs per status
func (s *Store) Counts(ctx context.Context) (map[Status]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM generation_jobs GROUP BY status`)
	if err != nil {
		return nil, errors.Wrap(err, "failed to count jobs")
	}
	defer rows.Close()

	counts := map[Status]int{
		StatusProcessing: 0,
		StatusCompleted:  0,
		StatusFailed:     0,
	}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, errors.Wrap(err, "failed to scan job count")
		}
		counts[Status(status)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "error iterating job counts")
	}
	return counts, nil
}

func scanJobs(rows *sql.Rows, what string) ([]*Job, error) {
	var jobs []*Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan job")
		}
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrapf(err, "error iterating %s", what)
	}
	return jobs, nil
}

// Subscribe returns a channel that receives a copy of every created or
// updated job. Slow subscribers miss updates rather than block writers.
func (s *Store) Subscribe() chan *Job {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch := make(chan *Job, SubscriberChannelBufferSize)
	s.subscribers = append(s.subscribers, ch)
	return ch
}

// Unsubscribe removes a subscriber channel. The channel is not closed;
// the caller owns its lifecycle.
func (s *Store) Unsubscribe(ch chan *Job) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, sub := range s.subscribers {
		if sub == ch {
			s.subscribers = append(s.subscribers[:i], s.subscribers[i+1:]...)
			return
		}
	}
}

func (s *Store) notify(j *Job) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, ch := range s.subscribers {
		snapshot := *j
		select {
		case ch <- &snapshot:
		default:
		}
	}
}
