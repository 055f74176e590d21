package storage

import (
	"errors"
	"fmt"

	"lanpull/transfer"
)

var jobStatuses = map[transfer.JobState]string{
	transfer.JobRunning:   JobStatusRunning,
	transfer.JobCompleted: JobStatusCompleted,
	transfer.JobPartial:   JobStatusPartial,
	transfer.JobFailed:    JobStatusFailed,
	transfer.JobCancelled: JobStatusCancelled,
}

var fileStatuses = map[transfer.TaskStatus]string{
	transfer.TaskPending:     FileStatusPending,
	transfer.TaskDownloading: FileStatusDownloading,
	transfer.TaskCompleted:   FileStatusCompleted,
	transfer.TaskFailed:      FileStatusFailed,
}

// JobFromReport maps a transfer report onto its history row.
func JobFromReport(report transfer.Report, peerName string) TransferJob {
	job := TransferJob{
		JobID:           report.JobID,
		PeerID:          report.PeerID,
		PeerName:        peerName,
		RemoteRoot:      report.RemoteRoot,
		Destination:     report.Destination,
		Status:          jobStatuses[report.State],
		TotalFiles:      report.Total,
		CompletedFiles:  report.Completed,
		SkippedFiles:    report.Skipped,
		FailedFiles:     report.Failed,
		BytesDownloaded: report.BytesDownloaded,
		StartedAt:       report.StartedAt.UnixMilli(),
	}
	if !report.FinishedAt.IsZero() {
		finishedAt := report.FinishedAt.UnixMilli()
		job.FinishedAt = &finishedAt
	}
	return job
}

// FilesFromTasks maps task outcomes onto history file rows.
func FilesFromTasks(tasks []transfer.FileTask) []JobFile {
	files := make([]JobFile, 0, len(tasks))
	for _, task := range tasks {
		file := JobFile{
			RelativePath:     task.RelativePath,
			Size:             task.ExpectedSize,
			BytesTransferred: task.BytesTransferred,
			Attempts:         task.Attempt,
			Status:           fileStatuses[task.Status],
			Skipped:          task.Skipped,
		}
		if task.LastError != nil {
			file.ErrorKind = transfer.ErrorKind(task.LastError)
			file.Error = task.LastError.Error()
		}
		files = append(files, file)
	}
	return files
}

// RecordStarted stores the running row of a freshly submitted job.
func (s *Store) RecordStarted(job *transfer.Job, peerName string) error {
	return s.SaveJob(JobFromReport(job.Report(), peerName))
}

// RecordFinished stores the final report of a finished job and its files.
func (s *Store) RecordFinished(job *transfer.Job, peerName string) error {
	report := job.Report()
	if report.State == transfer.JobRunning {
		return transfer.ErrJobRunning
	}

	record := JobFromReport(report, peerName)
	err := s.FinishJob(record)
	if errors.Is(err, ErrNotFound) {
		err = s.SaveJob(record)
	}
	if err != nil {
		return fmt.Errorf("record job %s: %w", report.JobID, err)
	}
	if err := s.SaveJobFiles(report.JobID, FilesFromTasks(job.Tasks())); err != nil {
		return fmt.Errorf("record files of job %s: %w", report.JobID, err)
	}
	return nil
}
