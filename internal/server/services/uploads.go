package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/ABCWORK9/mintydoc/internal/common"
	"github.com/ABCWORK9/mintydoc/internal/logging"
	"github.com/ABCWORK9/mintydoc/internal/server/metrics"
	"github.com/ABCWORK9/mintydoc/internal/server/models"
	"github.com/ABCWORK9/mintydoc/internal/server/repositories/jobs"
	"github.com/ABCWORK9/mintydoc/internal/server/repositories/repomanager"
	"github.com/ABCWORK9/mintydoc/internal/server/storage/blob"
	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

const (
	MinPartNumber = 1
	MaxPartNumber = 10000

	minPresignSeconds     = 60
	maxPresignSeconds     = 3600
	defaultPresignSeconds = 900

	maxLabelLength = 200
	abortedByUser  = "aborted_by_user"
)

var sha256Pattern = regexp.MustCompile(`^[0-9a-f]{64}$`)

// InitiateRequest opens a publish job.
type InitiateRequest struct {
	Wallet      string
	SHA256      string
	SizeBytes   uint64
	ContentType string
	Title       string
}

type InitiateResult struct {
	JobID     string `json:"jobId"`
	ObjectKey string `json:"objectKey"`
	UploadID  string `json:"uploadId"`
}

// UploadService drives the blob-storage multipart upload of a job.
type UploadService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	store       blob.Store
	metrics     *metrics.Collector
	log         logging.Logger
}

func NewUploadService(db *sql.DB, rm repomanager.RepositoryManager, store blob.Store, m *metrics.Collector, log logging.Logger) *UploadService {
	return &UploadService{
		db:          db,
		repomanager: rm,
		store:       store,
		metrics:     m,
		log:         log.With("module", "uploads"),
	}
}

func (s *UploadService) jobs() jobs.Repository {
	return s.repomanager.Jobs(s.db)
}

// ObjectKey is the blob key of a job's payload.
func ObjectKey(jobID, sha256 string) string {
	return fmt.Sprintf("uploads/%s/%s", jobID, sha256)
}

func (s *UploadService) ready() error {
	if err := s.store.Ready(); err != nil {
		return common.Misconfigured(err)
	}
	return nil
}

// Initiate validates the request, creates the job and opens the multipart
// session. A storage failure leaves the job failed, never half-initiated.
func (s *UploadService) Initiate(ctx context.Context, req InitiateRequest) (*InitiateResult, error) {
	wallet := strings.ToLower(strings.TrimSpace(req.Wallet))
	if !ethcommon.IsHexAddress(wallet) {
		return nil, common.Validation("invalid_wallet")
	}
	sha := strings.ToLower(strings.TrimSpace(req.SHA256))
	if !sha256Pattern.MatchString(sha) {
		return nil, common.Validation("invalid_sha256")
	}
	if req.SizeBytes == 0 {
		return nil, common.Validation("invalid_sizeBytes")
	}
	contentType := strings.TrimSpace(req.ContentType)
	if len(contentType) > maxLabelLength {
		return nil, common.Validation("invalid_contentType")
	}
	title := strings.TrimSpace(req.Title)
	if len(title) > maxLabelLength {
		return nil, common.Validation("invalid_title")
	}
	if err := s.ready(); err != nil {
		return nil, err
	}

	repo := s.jobs()
	id := uuid.NewString()
	job := &models.PublishJob{
		ID:           id,
		Wallet:       wallet,
		SHA256:       sha,
		SizeBytes:    req.SizeBytes,
		ContentType:  contentType,
		Title:        title,
		ObjectKey:    ObjectKey(id, sha),
		UploadStatus: models.UploadInitiated,
		State:        models.StateAwaitingUpload,
	}
	if err := repo.Create(ctx, job); err != nil {
		return nil, common.Internal("upload_initiation_failed", err)
	}

	uploadID, err := s.store.CreateMultipartUpload(ctx, job.ObjectKey, contentType)
	s.metrics.RecordUploadOp("initiate", err)
	if err != nil {
		s.log.Error(ctx, "multipart initiation failed", "job_id", id, "error", err)
		s.fail(ctx, repo, id, err)
		return nil, common.Internal("upload_initiation_failed", err)
	}

	_, err = mutateJob(ctx, repo, id, func(j *models.PublishJob) error {
		if j.State != models.StateAwaitingUpload {
			return common.Conflict("job_not_uploadable")
		}
		j.UploadID = uploadID
		j.UploadStatus = models.UploadInitiated
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info(ctx, "upload initiated", "job_id", id, "wallet", wallet, "size_bytes", req.SizeBytes)
	return &InitiateResult{JobID: id, ObjectKey: job.ObjectKey, UploadID: uploadID}, nil
}

// fail records an unrecoverable storage error on a job still in the upload
// phase. A job that meanwhile completed or went terminal is left alone.
func (s *UploadService) fail(ctx context.Context, repo jobs.Repository, id string, cause error) {
	_, err := mutateJob(ctx, repo, id, func(j *models.PublishJob) error {
		if j.State.IsTerminal() || j.UploadStatus == models.UploadUploaded {
			return errNoChange
		}
		j.State = models.StateFailed
		j.UploadStatus = models.UploadFailed
		j.LastError = cause.Error()
		return nil
	})
	if err != nil && !errors.Is(err, errNoChange) {
		s.log.Warn(ctx, "could not record upload failure", "job_id", id, "error", err)
	}
}

func uploadSession(job *models.PublishJob) error {
	if job.ObjectKey == "" {
		return common.Conflict("job_missing_objectKey")
	}
	if job.UploadID == "" {
		return common.Conflict("job_missing_uploadId")
	}
	return nil
}

// PresignPart returns a presigned PUT URL for one part. expiresInSeconds is
// clamped to [60, 3600] and defaults to 900. The first call moves the upload
// from initiated to uploading.
func (s *UploadService) PresignPart(ctx context.Context, jobID string, partNumber int, expiresInSeconds *int) (string, error) {
	jobID = strings.TrimSpace(jobID)
	if jobID == "" {
		return "", common.Validation("invalid_jobId")
	}
	if partNumber < MinPartNumber || partNumber > MaxPartNumber {
		return "", common.Validation("invalid_partNumber")
	}
	expires := defaultPresignSeconds
	if expiresInSeconds != nil {
		expires = min(max(*expiresInSeconds, minPresignSeconds), maxPresignSeconds)
	}
	if err := s.ready(); err != nil {
		return "", err
	}

	repo := s.jobs()
	job, err := loadJob(ctx, repo, jobID)
	if err != nil {
		return "", err
	}
	if err := uploadSession(job); err != nil {
		return "", err
	}
	if job.State.IsTerminal() {
		return "", common.Conflict("job_not_uploadable")
	}

	url, err := s.store.PresignUploadPart(ctx, job.ObjectKey, job.UploadID, int32(partNumber), time.Duration(expires)*time.Second)
	s.metrics.RecordUploadOp("presign", err)
	if err != nil {
		return "", common.Internal("presign_failed", err)
	}

	if job.UploadStatus == models.UploadInitiated {
		_, err := mutateJob(ctx, repo, jobID, func(j *models.PublishJob) error {
			if j.UploadStatus != models.UploadInitiated || j.State.IsTerminal() {
				return errNoChange
			}
			j.UploadStatus = models.UploadUploading
			return nil
		})
		if err != nil && !errors.Is(err, errNoChange) {
			return "", err
		}
	}
	return url, nil
}

// errNoChange aborts a mutation whose work was already done by someone else.
var errNoChange = errors.New("no change")

// ValidateParts rejects empty lists, out-of-range part numbers, empty ETags
// and duplicates.
func ValidateParts(parts []blob.Part) error {
	if len(parts) == 0 {
		return common.Validation("invalid_parts")
	}
	seen := make(map[int32]struct{}, len(parts))
	for _, p := range parts {
		if p.Number < MinPartNumber || p.Number > MaxPartNumber || strings.TrimSpace(p.ETag) == "" {
			return common.Validation("invalid_parts")
		}
		if _, dup := seen[p.Number]; dup {
			return common.Validation("invalid_parts")
		}
		seen[p.Number] = struct{}{}
	}
	return nil
}

// Complete finishes the multipart upload with parts sorted by number. A job
// that already completed is accepted unchanged. Storage failure fails the
// job; completion is not retried.
func (s *UploadService) Complete(ctx context.Context, jobID string, parts []blob.Part) error {
	jobID = strings.TrimSpace(jobID)
	if jobID == "" {
		return common.Validation("invalid_jobId")
	}
	if err := ValidateParts(parts); err != nil {
		return err
	}
	if err := s.ready(); err != nil {
		return err
	}

	repo := s.jobs()
	job, err := loadJob(ctx, repo, jobID)
	if err != nil {
		return err
	}
	if err := uploadSession(job); err != nil {
		return err
	}
	if job.State == models.StateAwaitingPayment && job.UploadStatus == models.UploadUploaded {
		return nil
	}
	if !completable(job) {
		return common.Conflict("job_not_completable")
	}

	sorted := make([]blob.Part, len(parts))
	copy(sorted, parts)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Number < sorted[j].Number })

	err = s.store.CompleteMultipartUpload(ctx, job.ObjectKey, job.UploadID, sorted)
	s.metrics.RecordUploadOp("complete", err)
	if err != nil {
		s.log.Error(ctx, "multipart completion failed", "job_id", jobID, "error", err)
		s.fail(ctx, repo, jobID, err)
		return common.Internal("complete_failed", err)
	}

	_, err = mutateJob(ctx, repo, jobID, func(j *models.PublishJob) error {
		if !completable(j) {
			return common.Conflict("job_not_completable")
		}
		j.UploadStatus = models.UploadUploaded
		j.State = models.StateAwaitingPayment
		j.LastError = ""
		return nil
	})
	if err != nil {
		return err
	}

	s.log.Info(ctx, "upload completed", "job_id", jobID, "parts", len(parts))
	return nil
}

func completable(j *models.PublishJob) bool {
	return j.State == models.StateAwaitingUpload &&
		(j.UploadStatus == models.UploadInitiated || j.UploadStatus == models.UploadUploading)
}

func abortable(j *models.PublishJob) bool {
	return !j.State.IsTerminal() && j.UploadStatus != models.UploadUploaded
}

// Abort cancels the storage-side session of a job that has not finished
// uploading.
func (s *UploadService) Abort(ctx context.Context, jobID string) error {
	jobID = strings.TrimSpace(jobID)
	if jobID == "" {
		return common.Validation("invalid_jobId")
	}
	if err := s.ready(); err != nil {
		return err
	}

	repo := s.jobs()
	job, err := loadJob(ctx, repo, jobID)
	if err != nil {
		return err
	}
	if err := uploadSession(job); err != nil {
		return err
	}
	if !abortable(job) {
		return common.Conflict("job_not_abortable")
	}

	err = s.store.AbortMultipartUpload(ctx, job.ObjectKey, job.UploadID)
	s.metrics.RecordUploadOp("abort", err)
	if err != nil {
		s.log.Error(ctx, "multipart abort failed", "job_id", jobID, "error", err)
		s.fail(ctx, repo, jobID, err)
		return common.Internal("abort_failed", err)
	}

	_, err = mutateJob(ctx, repo, jobID, func(j *models.PublishJob) error {
		if !abortable(j) {
			return common.Conflict("job_not_abortable")
		}
		j.UploadStatus = models.UploadAborted
		j.State = models.StateFailed
		j.LastError = abortedByUser
		return nil
	})
	if err != nil {
		return err
	}

	s.log.Info(ctx, "upload aborted", "job_id", jobID)
	return nil
}

// Get returns the current job record.
func (s *UploadService) Get(ctx context.Context, jobID string) (*models.PublishJob, error) {
	jobID = strings.TrimSpace(jobID)
	if jobID == "" {
		return nil, common.Validation("invalid_jobId")
	}
	return loadJob(ctx, s.jobs(), jobID)
}
