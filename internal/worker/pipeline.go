package worker

import (
	"context"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/getsentry/sentry-go"
	"github.com/voxqueue/tts/internal/audio"
	"github.com/voxqueue/tts/internal/callback"
	"github.com/voxqueue/tts/internal/client"
	"github.com/voxqueue/tts/internal/engine"
	"github.com/voxqueue/tts/internal/logger"
	"github.com/voxqueue/tts/internal/model"
)

// jobError is a failure that ends a job with a specific error code
type jobError struct {
	code string
	err  error
}

func (e *jobError) Error() string { return e.err.Error() }
func (e *jobError) Unwrap() error { return e.err }

func failWith(code string, format string, args ...interface{}) *jobError {
	return &jobError{code: code, err: fmt.Errorf(format, args...)}
}

// storeAttempts bounds the retries of a result write before the job is failed instead
const storeAttempts = 3

// synthesis is the stitched outcome of all chunks of a job
type synthesis struct {
	wav    []byte
	clip   *audio.Clip
	chunks int
}

// process runs one dequeued job to a terminal record. It never returns an
// error: every failure is stored for the caller to read. A job whose pending
// status expired while it was queued has been forgotten by the gateway and is
// dropped without synthesis.
func (w *Worker) process(job *model.Job) {
	ctx := context.Background()
	start := time.Now()

	queueWait := start.Sub(job.CreatedAt).Seconds()
	logger.Infof("Job %s dequeued by %s (tier=%s, wait=%.2fs, chars=%d)", job.ID, w.cfg.ID, job.Tier, queueWait, len([]rune(job.Text)))

	live, err := w.broker.SetStatus(ctx, model.StatusRecord{
		JobID:     job.ID,
		Status:    model.JobStatusProcessing,
		Tier:      job.Tier,
		WorkerID:  w.cfg.ID,
		UpdatedAt: time.Now().UTC(),
	}, w.statusTTL(job))
	if err != nil {
		logger.Warnf("Job %s: failed to mark processing: %v", job.ID, err)
	} else if !live {
		logger.Warnf("Job %s expired after %.2fs in the %s queue, dropping it", job.ID, queueWait, job.Tier)
		return
	}

	w.beginJob(job.ID)
	defer w.endJob()

	w.publish(ctx, model.JobEvent{JobID: job.ID, Status: model.JobStatusProcessing})
	w.beat()

	out, jerr := w.runPipeline(ctx, job)
	elapsed := time.Since(start)
	if jerr != nil {
		w.fail(ctx, job, jerr, elapsed)
		return
	}
	w.complete(ctx, job, out, elapsed, queueWait)
}

// runPipeline chunks, synthesizes, and stitches, converting panics into INTERNAL_ERROR
func (w *Worker) runPipeline(ctx context.Context, job *model.Job) (out *synthesis, jerr *jobError) {
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("Job %s panicked: %v\n%s", job.ID, r, debug.Stack())
			out = nil
			jerr = failWith(model.ErrorCodeInternal, "internal error: %v", r)
		}
	}()

	if strings.TrimSpace(job.Text) == "" {
		return nil, failWith(model.ErrorCodeInvalidJob, "job has no text")
	}
	if job.Tier != w.cfg.Tier {
		logger.Warnf("Job %s targets tier %s but was served by a %s worker", job.ID, job.Tier, w.cfg.Tier)
	}

	reference, jerr := w.prepareReference(job)
	if jerr != nil {
		return nil, jerr
	}

	chunks := w.cfg.Chunker.Split(job.Text, job.Speed)
	if len(chunks) == 0 {
		return nil, failWith(model.ErrorCodeInvalidJob, "job text produced no chunks")
	}

	clips := make([]*audio.Clip, 0, len(chunks))
	for i, text := range chunks {
		clip, err := w.engine.Synthesize(ctx, engine.Request{
			Text:           text,
			Voice:          job.Voice,
			Speed:          job.Speed,
			Tier:           w.cfg.Tier,
			ReferenceAudio: reference,
			ReferenceText:  job.ReferenceText,
		})
		if err != nil {
			return nil, &jobError{code: model.ErrorCodeEngine, err: fmt.Errorf("chunk %d/%d: %w", i+1, len(chunks), err)}
		}
		if clip == nil || len(clip.Samples) == 0 {
			return nil, failWith(model.ErrorCodeEmptyAudio, "chunk %d/%d produced no audio", i+1, len(chunks))
		}
		logger.Debugf("Job %s chunk %d/%d: %d chars -> %s", job.ID, i+1, len(chunks), len([]rune(text)), clip.Duration())
		clips = append(clips, clip)
	}

	stitched, err := audio.Stitch(clips, w.cfg.Crossfade)
	if err != nil {
		return nil, &jobError{code: model.ErrorCodeStitch, err: err}
	}
	wav, err := audio.EncodeWAV(stitched)
	if err != nil {
		return nil, &jobError{code: model.ErrorCodeStitch, err: err}
	}
	return &synthesis{wav: wav, clip: stitched, chunks: len(chunks)}, nil
}

// prepareReference strips leading and trailing silence from the cloning
// reference, then cuts it to TrimAudioTo seconds when asked
func (w *Worker) prepareReference(job *model.Job) ([]byte, *jobError) {
	if !job.HasReference() {
		return nil, nil
	}

	clip, err := audio.DecodeWAV(job.ReferenceAudio)
	if err != nil {
		return nil, &jobError{code: model.ErrorCodeInvalidJob, err: fmt.Errorf("reference audio: %w", err)}
	}
	trimmed := clip.TrimSilence(audio.SilenceThreshold)
	if len(trimmed.Samples) == 0 {
		return nil, failWith(model.ErrorCodeInvalidJob, "reference audio is silent")
	}
	if job.TrimAudioTo > 0 {
		trimmed = trimmed.Truncate(time.Duration(job.TrimAudioTo * float64(time.Second)))
	}
	if len(trimmed.Samples) == len(clip.Samples) {
		return job.ReferenceAudio, nil
	}
	logger.Debugf("Job %s reference trimmed from %s to %s", job.ID, clip.Duration(), trimmed.Duration())

	data, err := audio.EncodeWAV(trimmed)
	if err != nil {
		return nil, &jobError{code: model.ErrorCodeInternal, err: fmt.Errorf("reference audio: %w", err)}
	}
	return data, nil
}

// complete stores the result. elapsed covers synthesis only, not the archive upload.
func (w *Worker) complete(ctx context.Context, job *model.Job, out *synthesis, elapsed time.Duration, queueWait float64) {
	res := &model.Result{
		JobID:          job.ID,
		Status:         model.JobStatusCompleted,
		Tier:           job.Tier,
		GenerationTime: elapsed.Seconds(),
		AudioDuration:  out.clip.Duration().Seconds(),
		QueueWait:      queueWait,
		Chunks:         out.chunks,
		SampleRate:     out.clip.SampleRate,
		WorkerID:       w.cfg.ID,
		Audio:          out.wav,
	}

	if w.archiver != nil {
		url, err := w.archiver.Archive(ctx, client.ArchiveKey(job.Tier, job.ID), out.wav)
		if err != nil {
			logger.Warnf("Job %s: archive failed: %v", job.ID, err)
		} else {
			res.ArchiveURL = url
		}
	}

	res.CompletedAt = time.Now().UTC()

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		return struct{}{}, w.broker.SetResult(ctx, res, w.cfg.ResultTTL)
	},
		backoff.WithBackOff(w.newBackOff()),
		backoff.WithMaxTries(storeAttempts),
		backoff.WithNotify(func(err error, next time.Duration) {
			logger.Warnf("Job %s: failed to store result (retry in %s): %v", job.ID, next.Round(time.Millisecond), err)
		}),
	)
	if err != nil {
		// release any waiter with an error record instead
		w.fail(ctx, job, failWith(model.ErrorCodeInternal, "store result: %v", err), elapsed)
		return
	}
	if err := w.broker.RecordCompleted(ctx, job.Tier, res.GenerationTime); err != nil {
		logger.Warnf("Job %s: failed to record metrics: %v", job.ID, err)
	}
	w.metrics.JobProcessed(ctx, string(job.Tier), string(model.JobStatusCompleted), res.GenerationTime, out.chunks)
	w.publish(ctx, model.JobEvent{JobID: job.ID, Status: model.JobStatusCompleted})
	w.notify(ctx, job, callback.CompletedNotification(res))

	logger.Infof("Job %s completed by %s: %d chunks, %.2fs audio in %.2fs", job.ID, w.cfg.ID, out.chunks, res.AudioDuration, res.GenerationTime)
}

func (w *Worker) fail(ctx context.Context, job *model.Job, jerr *jobError, elapsed time.Duration) {
	logger.Errorf("Job %s failed on %s: [%s] %v", job.ID, w.cfg.ID, jerr.code, jerr.err)
	sentry.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("job_id", job.ID)
		scope.SetTag("tier", string(job.Tier))
		scope.SetTag("error_code", jerr.code)
		sentry.CaptureException(jerr)
	})

	rec := &model.ErrorRecord{
		JobID:       job.ID,
		Status:      model.JobStatusError,
		Tier:        job.Tier,
		ErrorCode:   jerr.code,
		Message:     jerr.Error(),
		WorkerID:    w.cfg.ID,
		CompletedAt: time.Now().UTC(),
	}
	if err := w.broker.SetError(ctx, rec, w.cfg.ResultTTL); err != nil {
		logger.Errorf("Job %s: failed to store error: %v", job.ID, err)
		return
	}
	if err := w.broker.RecordFailed(ctx, job.Tier); err != nil {
		logger.Warnf("Job %s: failed to record metrics: %v", job.ID, err)
	}
	w.metrics.JobProcessed(ctx, string(job.Tier), string(model.JobStatusError), elapsed.Seconds(), 0)
	w.publish(ctx, model.JobEvent{JobID: job.ID, Status: model.JobStatusError, ErrorCode: rec.ErrorCode, Message: rec.Message})
	w.notify(ctx, job, callback.FailedNotification(rec))
}

func (w *Worker) publish(ctx context.Context, ev model.JobEvent) {
	ev.At = time.Now().UTC()
	if err := w.broker.PublishEvent(ctx, ev); err != nil {
		logger.Warnf("Job %s: failed to publish %s event: %v", ev.JobID, ev.Status, err)
	}
}

func (w *Worker) notify(ctx context.Context, job *model.Job, n callback.Notification) {
	if job.CallbackURL == "" || w.callbacks == nil {
		return
	}
	if err := w.callbacks.Enqueue(ctx, job.CallbackURL, n); err != nil {
		logger.Warnf("Job %s: %v", job.ID, err)
	}
}

// statusTTL keeps the processing marker alive at least as long as the submitter may wait
func (w *Worker) statusTTL(job *model.Job) time.Duration {
	return w.cfg.ResultTTL + time.Duration(job.TimeoutSeconds)*time.Second
}
