package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

type Repository interface {
	CreateJob(ctx context.Context, job *Job) error
	GetJob(ctx context.Context, id string) (*Job, error)
	ListJobs(ctx context.Context, userID string, limit int) ([]*Job, error)
	MarkJobStarted(ctx context.Context, id string, at time.Time) error
	UpdateJobProgress(ctx context.Context, id string, progress int) error
	FinishJob(ctx context.Context, id string, status Status, errorMsg string, at time.Time) error
	MarkInterruptedJobs(ctx context.Context) (int64, error)

	CreateResult(ctx context.Context, result *Result) error
	GetResultsByJob(ctx context.Context, jobID string) ([]Result, error)
	ListExpiredResults(ctx context.Context, mode string, before time.Time) ([]Result, error)
	DeleteResult(ctx context.Context, id string) error
}

type SQLRepository struct {
	db *DB
}

func NewRepository(db *DB) *SQLRepository {
	return &SQLRepository{db: db}
}

const jobColumns = `id, user_id, script, mode, status, progress, error, args, default_command, created_at, updated_at, started_at, completed_at`

func (r *SQLRepository) CreateJob(ctx context.Context, j *Job) error {
	args, err := json.Marshal(j.Args)
	if err != nil {
		return fmt.Errorf("encoding job args: %w", err)
	}
	if j.Args == nil {
		args = []byte("[]")
	}
	_, err = r.db.exec(ctx, `
		INSERT INTO jobs (`+jobColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, j.ID, nullString(j.UserID), j.Script, j.Mode, string(j.Status), j.Progress, nullString(j.Error),
		string(args), boolToInt(j.DefaultCommand),
		formatTime(j.CreatedAt), formatTime(j.UpdatedAt), nullTime(j.StartedAt), nullTime(j.CompletedAt))
	return err
}

func (r *SQLRepository) GetJob(ctx context.Context, id string) (*Job, error) {
	row := r.db.queryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	j, err := scanJob(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return j, nil
}

// ListJobs returns jobs newest first. An empty userID lists every job.
func (r *SQLRepository) ListJobs(ctx context.Context, userID string, limit int) ([]*Job, error) {
	if limit <= 0 {
		limit = 50
	}
	var (
		rows *sql.Rows
		err  error
	)
	if userID == "" {
		rows, err = r.db.query(ctx, `SELECT `+jobColumns+` FROM jobs ORDER BY created_at DESC LIMIT ?`, limit)
	} else {
		rows, err = r.db.query(ctx, `SELECT `+jobColumns+` FROM jobs WHERE user_id = ? ORDER BY created_at DESC LIMIT ?`, userID, limit)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

func (r *SQLRepository) MarkJobStarted(ctx context.Context, id string, at time.Time) error {
	res, err := r.db.exec(ctx, `
		UPDATE jobs SET status = ?, started_at = ?, updated_at = ? WHERE id = ? AND status = ?
	`, string(StatusProcessing), formatTime(at), formatTime(at), id, string(StatusPending))
	return checkTransition(res, err, id, StatusProcessing)
}

func (r *SQLRepository) UpdateJobProgress(ctx context.Context, id string, progress int) error {
	_, err := r.db.exec(ctx, `
		UPDATE jobs SET progress = ?, updated_at = ? WHERE id = ?
	`, progress, formatTime(time.Now()), id)
	return err
}

// FinishJob moves a pending or processing job to a terminal status.
// Completed jobs get progress 100. A job that is already terminal is left
// untouched and ErrTransition is returned.
func (r *SQLRepository) FinishJob(ctx context.Context, id string, status Status, errorMsg string, at time.Time) error {
	if !status.Terminal() {
		return fmt.Errorf("status %s is not terminal", status)
	}
	from := sourcesOf(status)
	args := []interface{}{string(status), formatTime(at), formatTime(at), id}
	for _, s := range from {
		args = append(args, string(s))
	}
	guard := `id = ? AND status IN (?` + strings.Repeat(", ?", len(from)-1) + `)`

	var (
		res sql.Result
		err error
	)
	if status == StatusCompleted {
		res, err = r.db.exec(ctx, `
			UPDATE jobs SET status = ?, progress = 100, error = NULL, completed_at = ?, updated_at = ? WHERE `+guard, args...)
	} else {
		args = append([]interface{}{args[0], nullString(errorMsg)}, args[1:]...)
		res, err = r.db.exec(ctx, `
			UPDATE jobs SET status = ?, error = ?, completed_at = ?, updated_at = ? WHERE `+guard, args...)
	}
	return checkTransition(res, err, id, status)
}

func checkTransition(res sql.Result, err error, id string, next Status) error {
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: job %s cannot move to %s", ErrTransition, id, next)
	}
	return nil
}

// MarkInterruptedJobs fails jobs a previous process left unfinished. Their
// queue entries and staged uploads did not survive the restart.
func (r *SQLRepository) MarkInterruptedJobs(ctx context.Context) (int64, error) {
	now := formatTime(time.Now())
	res, err := r.db.exec(ctx, `
		UPDATE jobs SET status = ?, error = 'interrupted by restart', completed_at = ?, updated_at = ?
		WHERE status IN (?, ?)
	`, string(StatusFailed), now, now, string(StatusPending), string(StatusProcessing))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

const resultColumns = `id, job_id, storage_path, file_name, file_size, created_at`

func (r *SQLRepository) CreateResult(ctx context.Context, res *Result) error {
	_, err := r.db.exec(ctx, `
		INSERT INTO results (`+resultColumns+`) VALUES (?, ?, ?, ?, ?, ?)
	`, res.ID, res.JobID, res.StoragePath, res.FileName, res.FileSize, formatTime(res.CreatedAt))
	return err
}

func (r *SQLRepository) GetResultsByJob(ctx context.Context, jobID string) ([]Result, error) {
	rows, err := r.db.query(ctx, `SELECT `+resultColumns+` FROM results WHERE job_id = ? ORDER BY created_at ASC`, jobID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanResults(rows)
}

// ListExpiredResults returns results of jobs in mode created before the cutoff.
func (r *SQLRepository) ListExpiredResults(ctx context.Context, mode string, before time.Time) ([]Result, error) {
	rows, err := r.db.query(ctx, `
		SELECT r.id, r.job_id, r.storage_path, r.file_name, r.file_size, r.created_at
		FROM results r JOIN jobs j ON j.id = r.job_id
		WHERE j.mode = ? AND r.created_at < ?
		ORDER BY r.created_at ASC
	`, mode, formatTime(before))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanResults(rows)
}

func (r *SQLRepository) DeleteResult(ctx context.Context, id string) error {
	_, err := r.db.exec(ctx, `DELETE FROM results WHERE id = ?`, id)
	return err
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanJob(row scanner) (*Job, error) {
	var j Job
	var userID, errMsg, startedAt, completedAt sql.NullString
	var createdAt, updatedAt sql.NullString
	var status, args string
	var defaultCommand int

	err := row.Scan(&j.ID, &userID, &j.Script, &j.Mode, &status, &j.Progress, &errMsg, &args,
		&defaultCommand, &createdAt, &updatedAt, &startedAt, &completedAt)
	if err != nil {
		return nil, err
	}

	j.UserID = userID.String
	j.Status = Status(status)
	j.Error = errMsg.String
	j.DefaultCommand = defaultCommand != 0
	if err := json.Unmarshal([]byte(args), &j.Args); err != nil {
		return nil, fmt.Errorf("decoding args of job %s: %w", j.ID, err)
	}
	j.CreatedAt = parseTime(createdAt)
	j.UpdatedAt = parseTime(updatedAt)
	j.StartedAt = parseTime(startedAt)
	j.CompletedAt = parseTime(completedAt)
	return &j, nil
}

func scanResults(rows *sql.Rows) ([]Result, error) {
	var results []Result
	for rows.Next() {
		var res Result
		var createdAt sql.NullString
		if err := rows.Scan(&res.ID, &res.JobID, &res.StoragePath, &res.FileName, &res.FileSize, &createdAt); err != nil {
			return nil, err
		}
		res.CreatedAt = parseTime(createdAt)
		results = append(results, res)
	}
	return results, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
