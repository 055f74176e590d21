package storage

import (
	"errors"
	"fmt"
)

// SaveJobFiles replaces the recorded file outcomes of a job in one transaction.
func (s *Store) SaveJobFiles(jobID string, files []JobFile) error {
	if jobID == "" {
		return errors.New("job_id is required")
	}
	for _, file := range files {
		if file.RelativePath == "" {
			return errors.New("relative_path is required")
		}
		if err := validateFileStatus(file.Status); err != nil {
			return err
		}
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin job files transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	var exists int
	if err := tx.QueryRow(`SELECT EXISTS(SELECT 1 FROM transfer_jobs WHERE job_id = ?)`, jobID).Scan(&exists); err != nil {
		return fmt.Errorf("check transfer job %q: %w", jobID, err)
	}
	if exists != 1 {
		return ErrNotFound
	}

	if _, err := tx.Exec(`DELETE FROM transfer_files WHERE job_id = ?`, jobID); err != nil {
		return fmt.Errorf("clear job files %q: %w", jobID, err)
	}

	stmt, err := tx.Prepare(
		`INSERT INTO transfer_files (
			job_id,
			relative_path,
			size,
			bytes_transferred,
			attempts,
			status,
			skipped,
			error_kind,
			error
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
	)
	if err != nil {
		return fmt.Errorf("prepare job file insert: %w", err)
	}
	defer stmt.Close()

	for _, file := range files {
		if _, err := stmt.Exec(
			jobID,
			file.RelativePath,
			file.Size,
			file.BytesTransferred,
			file.Attempts,
			file.Status,
			boolToInt(file.Skipped),
			file.ErrorKind,
			file.Error,
		); err != nil {
			return fmt.Errorf("insert job file %q: %w", file.RelativePath, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit job files transaction: %w", err)
	}
	return nil
}

// ListJobFiles returns a job's files ordered by path. statusFilter may be empty.
func (s *Store) ListJobFiles(jobID, statusFilter string) ([]JobFile, error) {
	if jobID == "" {
		return nil, errors.New("job_id is required")
	}
	query := `SELECT
			job_id,
			relative_path,
			size,
			bytes_transferred,
			attempts,
			status,
			skipped,
			error_kind,
			error
		FROM transfer_files
		WHERE job_id = ?`
	args := []any{jobID}
	if statusFilter != "" {
		if err := validateFileStatus(statusFilter); err != nil {
			return nil, err
		}
		query += ` AND status = ?`
		args = append(args, statusFilter)
	}
	query += ` ORDER BY relative_path`

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list job files %q: %w", jobID, err)
	}
	defer rows.Close()

	files := make([]JobFile, 0)
	for rows.Next() {
		file, err := scanJobFile(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job file row: %w", err)
		}
		files = append(files, *file)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate job file rows: %w", err)
	}
	return files, nil
}

func scanJobFile(row scanner) (*JobFile, error) {
	var (
		file    JobFile
		skipped int
	)
	if err := row.Scan(
		&file.JobID,
		&file.RelativePath,
		&file.Size,
		&file.BytesTransferred,
		&file.Attempts,
		&file.Status,
		&skipped,
		&file.ErrorKind,
		&file.Error,
	); err != nil {
		return nil, err
	}
	file.Skipped = skipped == 1
	return &file, nil
}
