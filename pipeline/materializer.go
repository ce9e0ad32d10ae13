package pipeline

import (
	"context"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/reel/errors"
	"github.com/teranos/reel/internal/httpclient"
	"github.com/teranos/reel/job"
	"github.com/teranos/reel/logger"
	"github.com/teranos/reel/storage"
	"github.com/teranos/reel/sym"
)

// Materializer downloads a finished artifact, stores it in owned storage
// and writes the job's terminal state.
type Materializer struct {
	store   *job.Store
	storage storage.Storage
	client  *httpclient.SaferClient
	policy  Policy
	sleep   SleepFunc
	logger  *zap.SugaredLogger
}

// NewMaterializer creates a materializer. A nil client uses the
// SSRF-protected default; a nil sleep uses Sleep.
func NewMaterializer(store *job.Store, st storage.Storage, client *httpclient.SaferClient, policy Policy, sleep SleepFunc, log *zap.SugaredLogger) *Materializer {
	if client == nil {
		client = httpclient.NewSaferClient(0)
	}
	if sleep == nil {
		sleep = Sleep
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Materializer{
		store:   store,
		storage: st,
		client:  client,
		policy:  policy,
		sleep:   sleep,
		logger:  logger.AddSymbol(log, sym.Materialize),
	}
}

// Materialize stores the artifact at resultURL and completes the job, or
// fails it with a descriptive message. The returned error is the
// materialization failure (already recorded on the job) or a persistence
// error. When ctx ends first the job is left processing.
func (m *Materializer) Materialize(ctx context.Context, j *job.Job, resultURL string) error {
	data, contentType, err := m.download(ctx, j, resultURL)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return m.failWith(ctx, j, err)
	}

	ext := storage.ExtensionFor(j.Kind, contentType, resultURL)
	contentType = storage.ContentTypeFor(j.Kind, contentType, ext)

	publicURL, path, err := m.upload(ctx, j, data, contentType, ext)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return m.failWith(ctx, j, err)
	}

	if err := j.Complete(publicURL, path); err != nil {
		return errors.Wrapf(err, "complete job %s", j.ID)
	}
	if err := m.store.Update(ctx, j); err != nil {
		return errors.Wrapf(err, "persist completed job %s", j.ID)
	}

	m.logger.Infow(sym.Done+" Job completed",
		logger.FieldJobID, j.ID,
		logger.FieldTaskID, j.ExternalTaskID,
		logger.FieldSize, len(data),
		logger.FieldURL, publicURL,
		logger.FieldDurationMS, j.DurationMS)
	return nil
}

// Fail records a terminal failure on the job
func (m *Materializer) Fail(ctx context.Context, j *job.Job, message string) error {
	if err := j.Fail(message); err != nil {
		return errors.Wrapf(err, "fail job %s", j.ID)
	}
	if err := m.store.Update(ctx, j); err != nil {
		return errors.Wrapf(err, "persist failed job %s", j.ID)
	}
	m.logger.Infow(sym.Failed+" Job failed",
		logger.FieldJobID, j.ID,
		logger.FieldTaskID, j.ExternalTaskID,
		logger.FieldError, j.ErrorMessage,
		logger.FieldDurationMS, j.DurationMS)
	return nil
}

func (m *Materializer) failWith(ctx context.Context, j *job.Job, cause error) error {
	if err := m.Fail(ctx, j, cause.Error()); err != nil {
		return errors.WithSecondaryError(err, cause)
	}
	return cause
}

func (m *Materializer) download(ctx context.Context, j *job.Job, url string) ([]byte, string, error) {
	attempts := m.policy.DownloadAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			if err := m.sleep(ctx, time.Duration(attempt-1)*m.policy.DownloadBackoff); err != nil {
				return nil, "", err
			}
		}

		data, contentType, retryable, err := m.downloadOnce(ctx, url)
		if err == nil {
			return data, contentType, nil
		}
		lastErr = err
		if !retryable || ctx.Err() != nil {
			break
		}
		m.logger.Warnw("Download failed, retrying",
			logger.FieldJobID, j.ID,
			logger.FieldAttempt, attempt,
			logger.FieldError, err.Error())
	}
	return nil, "", lastErr
}

// downloadOnce fetches url within one attempt timeout. retryable is true
// for network errors and 5xx.
func (m *Materializer) downloadOnce(ctx context.Context, url string) (data []byte, contentType string, retryable bool, err error) {
	if m.policy.DownloadTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.policy.DownloadTimeout)
		defer cancel()
	}

	resp, err := m.client.Get(ctx, url)
	if err != nil {
		return nil, "", httpclient.IsRetryableNetworkError(err),
			&MaterializationError{Stage: StageDownload, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", httpclient.IsRetryableStatus(resp.StatusCode),
			&MaterializationError{Stage: StageDownload, StatusCode: resp.StatusCode, Err: errors.Newf("status %d", resp.StatusCode)}
	}

	limit := m.policy.MaxDownloadBytes
	var r io.Reader = resp.Body
	if limit > 0 {
		r = io.LimitReader(resp.Body, limit+1)
	}
	data, err = io.ReadAll(r)
	if err != nil {
		return nil, "", httpclient.IsRetryableNetworkError(err),
			&MaterializationError{Stage: StageDownload, Err: errors.Wrap(err, "read body")}
	}
	if limit > 0 && int64(len(data)) > limit {
		return nil, "", false,
			&MaterializationError{Stage: StageDownload, Err: errors.Newf("artifact exceeds %d bytes", limit)}
	}
	if len(data) == 0 {
		return nil, "", false,
			&MaterializationError{Stage: StageDownload, Err: errors.New("artifact is empty")}
	}
	return data, resp.Header.Get("Content-Type"), false, nil
}

// upload stores data under a fresh unique path, retrying once under a new
// path. The first path is removed best-effort.
func (m *Materializer) upload(ctx context.Context, j *job.Job, data []byte, contentType, ext string) (string, string, error) {
	var firstPath string
	for attempt := 1; attempt <= 2; attempt++ {
		path := storage.ObjectPath(j.Kind, j.UserID, j.ID, ext)

		publicURL, err := m.uploadOnce(ctx, path, data, contentType)
		if err == nil {
			if firstPath != "" {
				m.removeBestEffort(ctx, j, firstPath)
			}
			return publicURL, path, nil
		}
		if ctx.Err() != nil {
			return "", "", ctx.Err()
		}

		m.logger.Warnw("Upload failed",
			logger.FieldJobID, j.ID,
			logger.FieldAttempt, attempt,
			"path", path,
			logger.FieldError, err.Error())

		if attempt == 1 {
			firstPath = path
			continue
		}
		m.removeBestEffort(ctx, j, firstPath)
		return "", "", &MaterializationError{Stage: StageUpload, Err: err}
	}
	return "", "", &MaterializationError{Stage: StageUpload, Err: errors.New("upload not attempted")}
}

func (m *Materializer) uploadOnce(ctx context.Context, path string, data []byte, contentType string) (string, error) {
	if m.policy.UploadTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.policy.UploadTimeout)
		defer cancel()
	}
	return m.storage.Upload(ctx, path, data, contentType)
}

func (m *Materializer) removeBestEffort(ctx context.Context, j *job.Job, path string) {
	if err := m.storage.Remove(ctx, path); err != nil {
		m.logger.Debugw("Cleanup of partial upload failed",
			logger.FieldJobID, j.ID,
			"path", path,
			logger.FieldError, err.Error())
	}
}
