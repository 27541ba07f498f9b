// Package netx moves payload bytes to presigned object-storage URLs.
package netx

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

// ErrMissingETag means the store accepted a part but did not expose its
// ETag, which usually points at a CORS or proxy configuration problem.
var ErrMissingETag = errors.New("upload response has no ETag header")

// PartUploader PUTs part bodies to presigned URLs. Transport errors and 5xx
// responses are retried; a part PUT is idempotent.
type PartUploader struct {
	client *retryablehttp.Client
}

func NewPartUploader(retries int, wait, timeout time.Duration) *PartUploader {
	c := retryablehttp.NewClient()
	c.RetryMax = retries
	c.RetryWaitMin = wait
	c.RetryWaitMax = 8 * wait
	c.HTTPClient.Timeout = timeout
	c.Logger = nil
	// return the last response instead of a generic "giving up" error
	c.ErrorHandler = retryablehttp.PassthroughErrorHandler
	return &PartUploader{client: c}
}

// Put uploads body and returns the ETag the store assigned to it.
func (u *PartUploader) Put(ctx context.Context, url string, body []byte) (string, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPut, url, bytes.NewReader(body))
	if err != nil {
		return "", err
	}

	resp, err := u.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("upload failed: %s; body: %s", resp.Status, string(b))
	}

	etag := resp.Header.Get("ETag")
	if etag == "" {
		return "", ErrMissingETag
	}
	return etag, nil
}
