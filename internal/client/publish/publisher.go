// Package publish drives a local file through the upload and reservation
// flow: hash, multipart upload, quote, signed reservation intent.
package publish

import (
	"context"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/ABCWORK9/mintydoc/internal/client/api"
	"github.com/ABCWORK9/mintydoc/internal/cryptox"
	"github.com/ABCWORK9/mintydoc/internal/logging"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

const defaultMIME = "application/octet-stream"

// API is the slice of the HTTP API the publisher talks to.
type API interface {
	Initiate(ctx context.Context, req api.InitiateRequest) (*api.InitiateResponse, error)
	PresignPart(ctx context.Context, jobID string, partNumber int, expires time.Duration) (string, error)
	Complete(ctx context.Context, jobID string, parts []api.Part) error
	Abort(ctx context.Context, jobID string) error
	Estimate(ctx context.Context, sizeBytes uint64) (*api.Estimate, error)
	Intent(ctx context.Context, req api.IntentRequest) (*api.Intent, error)
}

// PartPutter uploads one part body to a presigned URL and returns its ETag.
type PartPutter interface {
	Put(ctx context.Context, url string, body []byte) (string, error)
}

type Settings struct {
	PartSize    int64
	Concurrency int
}

type Request struct {
	Path        string
	Wallet      string
	Payer       string
	Title       string
	ContentType string
}

type Result struct {
	JobID    string
	SHA256   string
	Size     int64
	Parts    int
	Estimate *api.Estimate
	Intent   *api.Intent
}

// Range is one multipart chunk of a payload.
type Range struct {
	Number int
	Offset int64
	Length int64
}

// Split cuts size bytes into partSize chunks numbered from 1. The last chunk
// carries the remainder.
func Split(size, partSize int64) []Range {
	if size <= 0 || partSize <= 0 {
		return nil
	}
	n := (size + partSize - 1) / partSize
	out := make([]Range, 0, n)
	for i := int64(0); i < n; i++ {
		off := i * partSize
		length := partSize
		if off+length > size {
			length = size - off
		}
		out = append(out, Range{Number: int(i + 1), Offset: off, Length: length})
	}
	return out
}

type Publisher struct {
	api      API
	put      PartPutter
	settings Settings
	log      logging.Logger
}

func New(a API, put PartPutter, settings Settings, log logging.Logger) *Publisher {
	if settings.Concurrency <= 0 {
		settings.Concurrency = 1
	}
	return &Publisher{
		api:      a,
		put:      put,
		settings: settings,
		log:      log.With("module", "publisher"),
	}
}

// Publish uploads the file at req.Path and requests a reservation intent for
// it. A failure after the upload was initiated aborts it server-side.
func (p *Publisher) Publish(ctx context.Context, req Request) (*Result, error) {
	sum, size, err := cryptox.FileDigest(req.Path)
	if err != nil {
		return nil, err
	}
	if size == 0 {
		return nil, fmt.Errorf("%s is empty", req.Path)
	}

	contentType := req.ContentType
	if contentType == "" {
		contentType = mime.TypeByExtension(filepath.Ext(req.Path))
	}
	if contentType == "" {
		contentType = defaultMIME
	}
	title := req.Title
	if title == "" {
		title = filepath.Base(req.Path)
	}

	job, err := p.api.Initiate(ctx, api.InitiateRequest{
		Wallet:      req.Wallet,
		SHA256:      sum,
		SizeBytes:   strconv.FormatInt(size, 10),
		ContentType: contentType,
		Title:       title,
	})
	if err != nil {
		return nil, fmt.Errorf("initiate: %w", err)
	}
	p.log.Info(ctx, "upload initiated", "job_id", job.JobID, "size", size)

	ranges := Split(size, p.settings.PartSize)
	parts, err := p.uploadParts(ctx, job.JobID, req.Path, ranges)
	if err == nil {
		err = p.api.Complete(ctx, job.JobID, parts)
	}
	if err != nil {
		// ctx may be the reason we failed
		if abortErr := p.api.Abort(context.WithoutCancel(ctx), job.JobID); abortErr != nil {
			p.log.Warn(ctx, "abort failed", "job_id", job.JobID, "error", abortErr)
		}
		return nil, fmt.Errorf("upload: %w", err)
	}
	p.log.Info(ctx, "upload complete", "job_id", job.JobID, "parts", len(parts))

	est, err := p.api.Estimate(ctx, uint64(size))
	if err != nil {
		return nil, fmt.Errorf("estimate: %w", err)
	}

	intent, err := p.api.Intent(ctx, api.IntentRequest{
		JobID:           job.JobID,
		Payer:           req.Payer,
		ClientRequestID: uuid.NewString(),
	})
	if err != nil {
		return nil, fmt.Errorf("reserve intent: %w", err)
	}

	return &Result{
		JobID:    job.JobID,
		SHA256:   sum,
		Size:     size,
		Parts:    len(parts),
		Estimate: est,
		Intent:   intent,
	}, nil
}

func (p *Publisher) uploadParts(ctx context.Context, jobID, path string, ranges []Range) ([]api.Part, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	parts := make([]api.Part, len(ranges))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.settings.Concurrency)
	for i, r := range ranges {
		g.Go(func() error {
			buf := make([]byte, r.Length)
			if _, err := io.ReadFull(io.NewSectionReader(f, r.Offset, r.Length), buf); err != nil {
				return err
			}
			url, err := p.api.PresignPart(gctx, jobID, r.Number, 0)
			if err != nil {
				return fmt.Errorf("presign part %d: %w", r.Number, err)
			}
			etag, err := p.put.Put(gctx, url, buf)
			if err != nil {
				return fmt.Errorf("put part %d: %w", r.Number, err)
			}
			parts[i] = api.Part{PartNumber: r.Number, ETag: etag}
			p.log.Debug(gctx, "part uploaded", "job_id", jobID, "part", r.Number)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	sort.Slice(parts, func(i, j int) bool { return parts[i].PartNumber < parts[j].PartNumber })
	return parts, nil
}
