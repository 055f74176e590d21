package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

const jobColumns = `
			job_id,
			peer_id,
			peer_name,
			remote_root,
			destination,
			status,
			total_files,
			completed_files,
			skipped_files,
			failed_files,
			bytes_downloaded,
			started_at,
			finished_at`

// SetHistoryRetention configures how long finished jobs are kept.
func (s *Store) SetHistoryRetention(retention time.Duration) {
	if retention <= 0 {
		retention = DefaultHistoryRetention
	}
	s.historyRetention.Store(int64(retention))
}

// SaveJob inserts a job row, or replaces it if the job ID already exists, and
// applies retention pruning.
func (s *Store) SaveJob(job TransferJob) error {
	if strings.TrimSpace(job.JobID) == "" {
		return errors.New("job_id is required")
	}
	if strings.TrimSpace(job.PeerID) == "" {
		return errors.New("peer_id is required")
	}
	if job.RemoteRoot == "" {
		return errors.New("remote_root is required")
	}
	if job.Destination == "" {
		return errors.New("destination is required")
	}
	if job.Status == "" {
		job.Status = JobStatusRunning
	}
	if err := validateJobStatus(job.Status); err != nil {
		return err
	}
	if job.StartedAt == 0 {
		job.StartedAt = nowUnixMilli()
	}

	_, err := s.db.Exec(
		`INSERT INTO transfer_jobs (`+jobColumns+`
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(job_id) DO UPDATE SET
			peer_id = excluded.peer_id,
			peer_name = excluded.peer_name,
			remote_root = excluded.remote_root,
			destination = excluded.destination,
			status = excluded.status,
			total_files = excluded.total_files,
			completed_files = excluded.completed_files,
			skipped_files = excluded.skipped_files,
			failed_files = excluded.failed_files,
			bytes_downloaded = excluded.bytes_downloaded,
			started_at = excluded.started_at,
			finished_at = excluded.finished_at`,
		job.JobID,
		job.PeerID,
		job.PeerName,
		job.RemoteRoot,
		job.Destination,
		job.Status,
		job.TotalFiles,
		job.CompletedFiles,
		job.SkippedFiles,
		job.FailedFiles,
		job.BytesDownloaded,
		job.StartedAt,
		nullInt64(job.FinishedAt),
	)
	if err != nil {
		return fmt.Errorf("insert transfer job %q: %w", job.JobID, err)
	}

	if _, err := s.pruneExpiredJobs(); err != nil {
		return fmt.Errorf("prune transfer jobs: %w", err)
	}
	return nil
}

// FinishJob records the final status and counters of a job.
func (s *Store) FinishJob(job TransferJob) error {
	if job.JobID == "" {
		return errors.New("job_id is required")
	}
	if err := validateJobStatus(job.Status); err != nil {
		return err
	}
	if job.Status == JobStatusRunning {
		return errors.New("finished job cannot be running")
	}
	finishedAt := nowUnixMilli()
	if job.FinishedAt != nil {
		finishedAt = *job.FinishedAt
	}

	res, err := s.db.Exec(
		`UPDATE transfer_jobs
		SET status = ?,
			total_files = ?,
			completed_files = ?,
			skipped_files = ?,
			failed_files = ?,
			bytes_downloaded = ?,
			finished_at = ?
		WHERE job_id = ?`,
		job.Status,
		job.TotalFiles,
		job.CompletedFiles,
		job.SkippedFiles,
		job.FailedFiles,
		job.BytesDownloaded,
		finishedAt,
		job.JobID,
	)
	if err != nil {
		return fmt.Errorf("finish transfer job %q: %w", job.JobID, err)
	}

	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("read rows affected for transfer job %q: %w", job.JobID, err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// GetJob fetches a job by ID.
func (s *Store) GetJob(jobID string) (*TransferJob, error) {
	row := s.db.QueryRow(`SELECT`+jobColumns+`
		FROM transfer_jobs
		WHERE job_id = ?`,
		jobID,
	)

	job, err := scanTransferJob(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get transfer job %q: %w", jobID, err)
	}
	return job, nil
}

// ListJobs returns the most recent jobs first. A limit <= 0 returns every job.
func (s *Store) ListJobs(limit int) ([]TransferJob, error) {
	query := `SELECT` + jobColumns + `
		FROM transfer_jobs
		ORDER BY started_at DESC, job_id`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list transfer jobs: %w", err)
	}
	defer rows.Close()

	jobs := make([]TransferJob, 0)
	for rows.Next() {
		job, err := scanTransferJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan transfer job row: %w", err)
		}
		jobs = append(jobs, *job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transfer job rows: %w", err)
	}
	return jobs, nil
}

// PruneJobsBefore removes finished jobs started before cutoffTimestamp, together
// with their file rows. Running jobs are kept.
func (s *Store) PruneJobsBefore(cutoffTimestamp int64) (int64, error) {
	if cutoffTimestamp <= 0 {
		return 0, errors.New("cutoff timestamp must be > 0")
	}

	res, err := s.db.Exec(
		`DELETE FROM transfer_jobs WHERE started_at < ? AND status <> ?`,
		cutoffTimestamp,
		JobStatusRunning,
	)
	if err != nil {
		return 0, fmt.Errorf("prune transfer jobs: %w", err)
	}

	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("read rows affected for transfer job prune: %w", err)
	}
	return rowsAffected, nil
}

func (s *Store) pruneExpiredJobs() (int64, error) {
	retention := time.Duration(s.historyRetention.Load())
	if retention <= 0 {
		return 0, nil
	}
	return s.PruneJobsBefore(time.Now().Add(-retention).UnixMilli())
}

func scanTransferJob(row scanner) (*TransferJob, error) {
	var (
		job        TransferJob
		finishedAt sql.NullInt64
	)
	if err := row.Scan(
		&job.JobID,
		&job.PeerID,
		&job.PeerName,
		&job.RemoteRoot,
		&job.Destination,
		&job.Status,
		&job.TotalFiles,
		&job.CompletedFiles,
		&job.SkippedFiles,
		&job.FailedFiles,
		&job.BytesDownloaded,
		&job.StartedAt,
		&finishedAt,
	); err != nil {
		return nil, err
	}
	job.FinishedAt = int64Ptr(finishedAt)
	return &job, nil
}
