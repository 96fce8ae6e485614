package worker

import (
	"context"
	"log/slog"

	"github.com/cuongbtq/speech-relay/internal/worker/domain"
)

// processJob runs transcription then synthesis for one job and records the terminal status
func (w *Worker) processJob(ctx context.Context, msg *domain.JobMessage) domain.SessionStatus {
	job := msg.Job

	// Step 1: Queued -> Processing
	if err := w.statuses.MarkProcessing(job.SessionID); err != nil {
		// The record is gone or owned elsewhere; drop the job but still release the upload
		w.logger.Warn("Skipping job without a queued status",
			slog.String("session_id", job.SessionID),
			slog.String("error", err.Error()),
		)
		w.inputs.ScheduleDelete(job.InputPath, w.inputRetention)
		return domain.NotFoundStatus(job.SessionID)
	}

	// Step 2: speech-to-text
	text, err := w.transcription.Run(ctx, job.InputPath)
	if err != nil {
		w.logger.Error("Transcription failed",
			slog.String("session_id", job.SessionID),
			slog.String("error", err.Error()),
		)
		return w.finish(ctx, job, domain.SessionStatus{
			State:       domain.StateFailed,
			ErrorDetail: err.Error(),
		})
	}

	// Step 3: text-to-speech
	ref, err := w.synthesis.Run(ctx, job.SessionID, text)
	if err != nil {
		w.logger.Error("Synthesis failed",
			slog.String("session_id", job.SessionID),
			slog.String("error", err.Error()),
		)
		return w.finish(ctx, job, domain.SessionStatus{
			State:         domain.StatePartialSuccess,
			Transcription: &text,
			ErrorDetail:   err.Error(),
		})
	}

	// Step 4: full success
	return w.finish(ctx, job, domain.SessionStatus{
		State:         domain.StateCompleted,
		Transcription: &text,
		OutputRef:     ref,
	})
}

// finish releases the input, writes the terminal status, starts its retention timer and archives it
func (w *Worker) finish(ctx context.Context, job domain.Job, result domain.SessionStatus) domain.SessionStatus {
	w.inputs.ScheduleDelete(job.InputPath, w.inputRetention)

	final, err := w.statuses.SetTerminal(job.SessionID, result)
	if err != nil {
		w.logger.Error("Failed to write terminal status",
			slog.String("session_id", job.SessionID),
			slog.String("status", string(result.State)),
			slog.String("error", err.Error()),
		)
		return result
	}
	w.statuses.ScheduleExpiry(job.SessionID, w.statusRetention)

	w.record(ctx, final)
	return final
}

// record archives a terminal status; archive failures never affect the live status
func (w *Worker) record(ctx context.Context, final domain.SessionStatus) {
	if w.history == nil {
		return
	}
	if err := w.history.RecordSession(ctx, domain.NewSessionRecord(final)); err != nil {
		w.logger.Warn("Failed to archive session",
			slog.String("session_id", final.SessionID),
			slog.String("error", err.Error()),
		)
	}
}
