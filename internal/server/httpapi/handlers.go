package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/ABCWORK9/mintydoc/internal/common"
	"github.com/ABCWORK9/mintydoc/internal/server/models"
	"github.com/ABCWORK9/mintydoc/internal/server/services"
	"github.com/ABCWORK9/mintydoc/internal/server/storage/blob"
	"github.com/gorilla/mux"
)

type initiateBody struct {
	Wallet      string   `json:"wallet"`
	SHA256      string   `json:"sha256"`
	SizeBytes   flexUint `json:"sizeBytes"`
	ContentType string   `json:"contentType"`
	Title       string   `json:"title"`
}

func (s *Server) handleInitiate(w http.ResponseWriter, r *http.Request) {
	var body initiateBody
	if err := decodeJSON(r, &body); err != nil {
		s.writeError(w, r, err)
		return
	}

	res, err := s.uploads.Initiate(r.Context(), services.InitiateRequest{
		Wallet:      body.Wallet,
		SHA256:      body.SHA256,
		SizeBytes:   uint64(body.SizeBytes),
		ContentType: body.ContentType,
		Title:       body.Title,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type presignBody struct {
	JobID            string   `json:"jobId"`
	PartNumber       float64  `json:"partNumber"`
	ExpiresInSeconds *float64 `json:"expiresInSeconds"`
}

func (s *Server) handlePresignPart(w http.ResponseWriter, r *http.Request) {
	var body presignBody
	if err := decodeJSON(r, &body); err != nil {
		s.writeError(w, r, err)
		return
	}
	part, ok := wholeNumber(body.PartNumber)
	if !ok {
		s.writeError(w, r, common.Validation("invalid_partNumber"))
		return
	}
	var expires *int
	if body.ExpiresInSeconds != nil {
		n, ok := wholeNumber(*body.ExpiresInSeconds)
		if !ok {
			s.writeError(w, r, common.Validation("invalid_expiresInSeconds"))
			return
		}
		expires = &n
	}

	url, err := s.uploads.PresignPart(r.Context(), body.JobID, part, expires)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"url": url})
}

type completePart struct {
	PartNumber float64 `json:"partNumber"`
	ETag       string  `json:"etag"`
}

type completeBody struct {
	JobID string         `json:"jobId"`
	Parts []completePart `json:"parts"`
}

func (s *Server) handleComplete(w http.ResponseWriter, r *http.Request) {
	var body completeBody
	if err := decodeJSON(r, &body); err != nil {
		s.writeError(w, r, err)
		return
	}

	parts := make([]blob.Part, 0, len(body.Parts))
	for _, p := range body.Parts {
		n, ok := wholeNumber(p.PartNumber)
		if !ok {
			s.writeError(w, r, common.Validation("invalid_parts"))
			return
		}
		parts = append(parts, blob.Part{Number: int32(n), ETag: p.ETag})
	}

	if err := s.uploads.Complete(r.Context(), body.JobID, parts); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, okBody{OK: true})
}

type jobRef struct {
	JobID string `json:"jobId"`
}

func (s *Server) handleAbort(w http.ResponseWriter, r *http.Request) {
	var body jobRef
	if err := decodeJSON(r, &body); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.uploads.Abort(r.Context(), body.JobID); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, okBody{OK: true})
}

type estimateBody struct {
	SizeBytes flexUint `json:"sizeBytes"`
}

func (s *Server) handleEstimate(w http.ResponseWriter, r *http.Request) {
	var body estimateBody
	if err := decodeJSON(r, &body); err != nil {
		s.writeError(w, r, err)
		return
	}
	q, err := s.reserve.Estimate(r.Context(), uint64(body.SizeBytes))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, q)
}

type intentBody struct {
	JobID           string `json:"jobId"`
	Payer           string `json:"payer"`
	ClientRequestID string `json:"clientRequestId"`
}

func (s *Server) handleIntent(w http.ResponseWriter, r *http.Request) {
	var body intentBody
	if err := decodeJSON(r, &body); err != nil {
		s.writeError(w, r, err)
		return
	}
	crid := body.ClientRequestID
	if h := r.Header.Get(common.ClientRequestIDHeaderName); h != "" {
		crid = h
	}

	res, err := s.reserve.Intent(r.Context(), services.IntentRequest{
		JobID:           body.JobID,
		Payer:           body.Payer,
		ClientRequestID: crid,
		ClientIP:        clientIP(r),
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.uploads.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newJobView(job))
}

// jobView is the wire projection of a job.
type jobView struct {
	JobID             string              `json:"jobId"`
	Wallet            string              `json:"wallet"`
	SHA256            string              `json:"sha256"`
	SizeBytes         string              `json:"sizeBytes"`
	ContentType       string              `json:"contentType,omitempty"`
	Title             string              `json:"title,omitempty"`
	ObjectKey         string              `json:"objectKey"`
	UploadStatus      models.UploadStatus `json:"uploadStatus"`
	State             models.JobState     `json:"state"`
	ReservePayer      string              `json:"reservePayer,omitempty"`
	ReservePriceCents *uint32             `json:"reservePriceCents,omitempty"`
	ReserveExpiresAt  *uint64             `json:"reserveExpiresAt,omitempty"`
	ReserveNonce      string              `json:"reserveNonce,omitempty"`
	ReservationID     string              `json:"reserveReservationId,omitempty"`
	ArweaveTxID       string              `json:"arweaveTxId,omitempty"`
	FinalizeTxHash    string              `json:"finalizeTxHash,omitempty"`
	LastError         string              `json:"lastError,omitempty"`
	Attempts          int                 `json:"attempts"`
	CreatedAt         time.Time           `json:"createdAt"`
	UpdatedAt         time.Time           `json:"updatedAt"`
}

func newJobView(j *models.PublishJob) jobView {
	v := jobView{
		JobID:          j.ID,
		Wallet:         j.Wallet,
		SHA256:         j.SHA256,
		SizeBytes:      strconv.FormatUint(j.SizeBytes, 10),
		ContentType:    j.ContentType,
		Title:          j.Title,
		ObjectKey:      j.ObjectKey,
		UploadStatus:   j.UploadStatus,
		State:          j.State,
		ReservationID:  j.ReservationID,
		ArweaveTxID:    j.ArweaveTxID,
		FinalizeTxHash: j.FinalizeTxHash,
		LastError:      j.LastError,
		Attempts:       j.Attempts,
		CreatedAt:      j.CreatedAt,
		UpdatedAt:      j.UpdatedAt,
	}
	if q := j.Quote; q != nil {
		price, expires := q.PriceCents, q.ExpiresAt
		v.ReservePayer = q.Payer
		v.ReservePriceCents = &price
		v.ReserveExpiresAt = &expires
		v.ReserveNonce = q.Nonce
	}
	return v
}
