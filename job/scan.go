package job

import (
	"database/sql"
)

// ScanArgs holds the nullable columns scanned for a job row
type ScanArgs struct {
	ResultURL    sql.NullString
	ErrorMessage sql.NullString
	StoragePath  sql.NullString
	DurationMS   sql.NullInt64
	CompletedAt  sql.NullTime
}

// scanTargets returns pointers in the order of SelectColumns
func scanTargets(j *Job, args *ScanArgs) []interface{} {
	return []interface{}{
		&j.ID,
		&j.ExternalTaskID,
		&j.Provider,
		&j.Kind,
		&j.Model,
		&j.UserID,
		&j.Prompt,
		&j.ImageURL,
		&j.Template,
		&j.Status,
		&args.ResultURL,
		&args.ErrorMessage,
		&args.StoragePath,
		&j.PollAttempts,
		&args.DurationMS,
		&j.CreatedAt,
		&j.UpdatedAt,
		&args.CompletedAt,
	}
}

// processScanArgs copies the nullable columns onto the job
func processScanArgs(j *Job, args *ScanArgs) {
	j.ResultURL = args.ResultURL.String
	j.ErrorMessage = args.ErrorMessage.String
	j.StoragePath = args.StoragePath.String
	j.DurationMS = args.DurationMS.Int64
	if args.CompletedAt.Valid {
		t := args.CompletedAt.Time.UTC()
		j.CompletedAt = &t
	}
	j.CreatedAt = j.CreatedAt.UTC()
	j.UpdatedAt = j.UpdatedAt.UTC()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanJob(row rowScanner) (*Job, error) {
	var j Job
	args := &ScanArgs{}
	if err := row.Scan(scanTargets(&j, args)...); err != nil {
		return nil, err
	}
	processScanArgs(&j, args)
	return &j, nil
}

// SelectColumns is the column list for job SELECT queries
const SelectColumns = `id, external_task_id, provider, kind, model, user_id,
		prompt, image_url, template, status,
		result_url, error_message, storage_path,
		poll_attempts, duration_ms,
		created_at, updated_at, completed_at`

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullInt64(n int64, valid bool) sql.NullInt64 {
	return sql.NullInt64{Int64: n, Valid: valid}
}
