// Package api is a typed client for the mintydoc HTTP API.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/ABCWORK9/mintydoc/internal/common"
)

// Error is a non-2xx API response.
type Error struct {
	Status int
	Code   string
}

func (e *Error) Error() string {
	return fmt.Sprintf("api error %d: %s", e.Status, e.Code)
}

// CodeOf returns the API error code carried by err, or "".
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

type Client struct {
	base string
	http *http.Client
}

func New(baseURL string, timeout time.Duration) *Client {
	return &Client{
		base: baseURL,
		http: &http.Client{Timeout: timeout},
	}
}

type InitiateRequest struct {
	Wallet      string `json:"wallet"`
	SHA256      string `json:"sha256"`
	SizeBytes   string `json:"sizeBytes"`
	ContentType string `json:"contentType,omitempty"`
	Title       string `json:"title,omitempty"`
}

type InitiateResponse struct {
	JobID     string `json:"jobId"`
	ObjectKey string `json:"objectKey"`
	UploadID  string `json:"uploadId"`
}

type Part struct {
	PartNumber int    `json:"partNumber"`
	ETag       string `json:"etag"`
}

type Breakdown struct {
	ArweaveCents uint64 `json:"arweaveCents"`
	BaseFeeCents uint64 `json:"baseFeeCents"`
	MarkupCents  uint64 `json:"markupCents"`
	TotalCents   uint64 `json:"totalCents"`
}

type Estimate struct {
	PriceCents uint64    `json:"priceCents"`
	Breakdown  Breakdown `json:"breakdown"`
}

type IntentRequest struct {
	JobID           string `json:"jobId"`
	Payer           string `json:"payer,omitempty"`
	ClientRequestID string `json:"clientRequestId,omitempty"`
}

type Intent struct {
	ChainID         int64      `json:"chainId"`
	ContractAddress string     `json:"contractAddress"`
	FunctionName    string     `json:"functionName"`
	Args            []any      `json:"args"`
	Value           string     `json:"value"`
	ReservationID   string     `json:"reservationId"`
	Digest          string     `json:"digest"`
	PriceCents      uint32     `json:"priceCents"`
	ExpiresAt       uint64     `json:"expiresAt"`
	Nonce           string     `json:"nonce"`
	Signature       string     `json:"signature"`
	Breakdown       *Breakdown `json:"breakdown,omitempty"`
	Reissued        bool       `json:"reissued"`
}

type Job struct {
	JobID             string    `json:"jobId"`
	Wallet            string    `json:"wallet"`
	SHA256            string    `json:"sha256"`
	SizeBytes         string    `json:"sizeBytes"`
	ContentType       string    `json:"contentType,omitempty"`
	Title             string    `json:"title,omitempty"`
	ObjectKey         string    `json:"objectKey"`
	UploadStatus      string    `json:"uploadStatus"`
	State             string    `json:"state"`
	ReservePayer      string    `json:"reservePayer,omitempty"`
	ReservePriceCents *uint32   `json:"reservePriceCents,omitempty"`
	ReserveExpiresAt  *uint64   `json:"reserveExpiresAt,omitempty"`
	ReservationID     string    `json:"reserveReservationId,omitempty"`
	ArweaveTxID       string    `json:"arweaveTxId,omitempty"`
	FinalizeTxHash    string    `json:"finalizeTxHash,omitempty"`
	LastError         string    `json:"lastError,omitempty"`
	Attempts          int       `json:"attempts"`
	CreatedAt         time.Time `json:"createdAt"`
	UpdatedAt         time.Time `json:"updatedAt"`
}

func (c *Client) Initiate(ctx context.Context, req InitiateRequest) (*InitiateResponse, error) {
	var out InitiateResponse
	if err := c.do(ctx, http.MethodPost, "/api/upload/initiate", req, &out, nil); err != nil {
		return nil, err
	}
	return &out, nil
}

// PresignPart returns a URL the part body can be PUT to. expires <= 0 keeps
// the server default.
func (c *Client) PresignPart(ctx context.Context, jobID string, partNumber int, expires time.Duration) (string, error) {
	body := map[string]any{"jobId": jobID, "partNumber": partNumber}
	if expires > 0 {
		body["expiresInSeconds"] = int(expires.Seconds())
	}
	var out struct {
		URL string `json:"url"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/upload/presign-part", body, &out, nil); err != nil {
		return "", err
	}
	return out.URL, nil
}

func (c *Client) Complete(ctx context.Context, jobID string, parts []Part) error {
	body := struct {
		JobID string `json:"jobId"`
		Parts []Part `json:"parts"`
	}{jobID, parts}
	return c.do(ctx, http.MethodPost, "/api/upload/complete", body, nil, nil)
}

func (c *Client) Abort(ctx context.Context, jobID string) error {
	return c.do(ctx, http.MethodPost, "/api/upload/abort", map[string]string{"jobId": jobID}, nil, nil)
}

func (c *Client) Estimate(ctx context.Context, sizeBytes uint64) (*Estimate, error) {
	body := map[string]string{"sizeBytes": strconv.FormatUint(sizeBytes, 10)}
	var out Estimate
	if err := c.do(ctx, http.MethodPost, "/api/pricing/estimate", body, &out, nil); err != nil {
		return nil, err
	}
	return &out, nil
}

// Intent requests a signed reservePost call. The client request id is sent
// as a header so a retried call is recognised by the server.
func (c *Client) Intent(ctx context.Context, req IntentRequest) (*Intent, error) {
	hdr := http.Header{}
	if req.ClientRequestID != "" {
		hdr.Set(common.ClientRequestIDHeaderName, req.ClientRequestID)
	}
	var out Intent
	if err := c.do(ctx, http.MethodPost, "/api/reserve/intent", req, &out, hdr); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Job(ctx context.Context, jobID string) (*Job, error) {
	var out Job
	if err := c.do(ctx, http.MethodGet, "/api/jobs/"+url.PathEscape(jobID), nil, &out, nil); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out any, hdr http.Header) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return err
	}
	for k, v := range hdr {
		req.Header[k] = v
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var e struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(io.LimitReader(resp.Body, 1<<16)).Decode(&e)
		if e.Error == "" {
			e.Error = http.StatusText(resp.StatusCode)
		}
		return &Error{Status: resp.StatusCode, Code: e.Error}
	}

	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
