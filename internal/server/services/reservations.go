package services

import (
	"context"
	"database/sql"
	"encoding/hex"
	"errors"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/ABCWORK9/mintydoc/internal/common"
	"github.com/ABCWORK9/mintydoc/internal/logging"
	"github.com/ABCWORK9/mintydoc/internal/server/metrics"
	"github.com/ABCWORK9/mintydoc/internal/server/models"
	"github.com/ABCWORK9/mintydoc/internal/server/pricing"
	"github.com/ABCWORK9/mintydoc/internal/server/ratelimit"
	"github.com/ABCWORK9/mintydoc/internal/server/repositories/jobs"
	"github.com/ABCWORK9/mintydoc/internal/server/repositories/repomanager"
	"github.com/ABCWORK9/mintydoc/internal/server/signer"
	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// ReserveFunction is the payment contract method the client calls with the
// returned arguments.
const ReserveFunction = "reservePost"

// Quoter prices an upload.
type Quoter interface {
	Quote(ctx context.Context, sizeBytes uint64) (*pricing.Quote, error)
}

// ReservationSettings bind quotes to one deployed contract.
type ReservationSettings struct {
	ChainID         int64
	ContractAddress string
	TTL             time.Duration
}

type IntentRequest struct {
	JobID           string
	Payer           string
	ClientRequestID string
	ClientIP        string
}

// IntentResult carries the reservePost call the client submits on-chain,
// plus the quote it was built from.
type IntentResult struct {
	ChainID         int64              `json:"chainId"`
	ContractAddress string             `json:"contractAddress"`
	FunctionName    string             `json:"functionName"`
	Args            []any              `json:"args"`
	Value           string             `json:"value"`
	ReservationID   string             `json:"reservationId"`
	Digest          string             `json:"digest"`
	PriceCents      uint32             `json:"priceCents"`
	ExpiresAt       uint64             `json:"expiresAt"`
	Nonce           string             `json:"nonce"`
	Signature       string             `json:"signature"`
	Breakdown       *pricing.Breakdown `json:"breakdown,omitempty"`
	Reissued        bool               `json:"reissued"`
}

// ReservationService issues signed reservation quotes for uploaded jobs.
type ReservationService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	quoter      Quoter
	signer      signer.Signer
	limiter     *ratelimit.Limiter
	settings    ReservationSettings
	metrics     *metrics.Collector
	log         logging.Logger
	now         func() time.Time
}

// NewReservationService wires the intent flow. sig may be nil when no signer
// key is configured; intents then fail with server_misconfigured.
func NewReservationService(db *sql.DB, rm repomanager.RepositoryManager, q Quoter, sig signer.Signer,
	limiter *ratelimit.Limiter, settings ReservationSettings, m *metrics.Collector, log logging.Logger) *ReservationService {
	return &ReservationService{
		db:          db,
		repomanager: rm,
		quoter:      q,
		signer:      sig,
		limiter:     limiter,
		settings:    settings,
		metrics:     m,
		log:         log.With("module", "reservations"),
		now:         time.Now,
	}
}

func (s *ReservationService) jobs() jobs.Repository {
	return s.repomanager.Jobs(s.db)
}

// Estimate prices sizeBytes without binding anything.
func (s *ReservationService) Estimate(ctx context.Context, sizeBytes uint64) (*pricing.Quote, error) {
	if sizeBytes == 0 {
		return nil, common.Validation("missing_sizeBytes")
	}
	q, err := s.quoter.Quote(ctx, sizeBytes)
	if err != nil {
		return nil, common.Internal("estimate_failed", err)
	}
	return q, nil
}

func (s *ReservationService) contract() (ethcommon.Address, error) {
	if s.signer == nil || s.settings.ChainID == 0 || !ethcommon.IsHexAddress(s.settings.ContractAddress) {
		return ethcommon.Address{}, common.Misconfigured(errors.New("reservation signer is not configured"))
	}
	return ethcommon.HexToAddress(s.settings.ContractAddress), nil
}

func (s *ReservationService) rateLimited(code string) error {
	s.metrics.RecordRateLimited(code)
	return common.RateLimited(code)
}

// Intent returns a signed reservation for an uploaded job. An unexpired quote
// is re-issued unchanged; otherwise a fresh quote is priced, bound to a new
// nonce and persisted atomically with its reservation id.
func (s *ReservationService) Intent(ctx context.Context, req IntentRequest) (*IntentResult, error) {
	if !s.limiter.AllowIP(req.ClientIP) {
		return nil, s.rateLimited("ip_rate_limit")
	}

	jobID := strings.TrimSpace(req.JobID)
	if jobID == "" {
		return nil, common.Validation("invalid_jobId")
	}

	repo := s.jobs()
	job, err := loadJob(ctx, repo, jobID)
	if err != nil {
		return nil, err
	}
	if job.UploadStatus != models.UploadUploaded || job.State != models.StateAwaitingPayment {
		return nil, common.Conflict("job_not_ready_for_reserve")
	}
	if job.SHA256 == "" || job.SizeBytes == 0 {
		return nil, common.Internal("server_inconsistent_state", errors.New("uploaded job without sha256 or size"))
	}

	contract, err := s.contract()
	if err != nil {
		return nil, err
	}

	payer := strings.ToLower(strings.TrimSpace(req.Payer))
	if payer == "" {
		payer = job.Wallet
	}
	if !ethcommon.IsHexAddress(payer) {
		return nil, common.Validation("invalid_payer")
	}
	if job.Quote != nil && job.Quote.Payer != "" && !strings.EqualFold(job.Quote.Payer, payer) {
		return nil, common.Conflict("reserve_payer_mismatch")
	}

	duplicate := s.limiter.SeenRequest(payer, strings.TrimSpace(req.ClientRequestID))
	now := s.now()

	if job.Quote != nil && !job.Quote.Expired(now) {
		return s.reissue(ctx, job, contract, payer)
	}

	var ticket *ratelimit.Ticket
	if !duplicate {
		if s.limiter.HasOtherActive(payer, jobID) {
			return nil, s.rateLimited("active_reservation_limit")
		}
		var ok bool
		if ticket, ok = s.limiter.ReserveWallet(payer); !ok {
			return nil, s.rateLimited("hourly_reservation_limit")
		}
	}

	res, err := s.issue(ctx, repo, job, contract, payer, now)
	if err != nil {
		ticket.Cancel()
		return nil, err
	}
	return res, nil
}

func (s *ReservationService) reissue(ctx context.Context, job *models.PublishJob, contract ethcommon.Address, payer string) (*IntentResult, error) {
	q := job.Quote
	nonce, err := decodeNonce(q.Nonce)
	if err != nil {
		return nil, common.Internal("server_inconsistent_state", err)
	}
	tuple := signer.Tuple{
		Contract:   contract,
		Payer:      ethcommon.HexToAddress(q.Payer),
		SizeBytes:  job.SizeBytes,
		PriceCents: q.PriceCents,
		ExpiresAt:  q.ExpiresAt,
		Nonce:      nonce,
	}
	if q.Payer == "" {
		tuple.Payer = ethcommon.HexToAddress(payer)
	}

	res, err := s.build(tuple)
	if err != nil {
		return nil, err
	}
	if job.ReservationID != "" && job.ReservationID != res.ReservationID {
		return nil, common.Conflict("reserve_reservation_id_mismatch")
	}

	s.limiter.MarkActive(payer, job.ID, time.Unix(int64(q.ExpiresAt), 0))
	s.metrics.RecordQuote("reissued")
	res.Reissued = true
	return res, nil
}

func (s *ReservationService) issue(ctx context.Context, repo jobs.Repository, job *models.PublishJob, contract ethcommon.Address, payer string, now time.Time) (*IntentResult, error) {
	quote, err := s.quoter.Quote(ctx, job.SizeBytes)
	if err != nil {
		s.log.Error(ctx, "quote failed", "job_id", job.ID, "error", err)
		return nil, common.Internal("intent_failed", err)
	}
	if quote.PriceCents > math.MaxUint32 {
		return nil, common.Internal("quote_out_of_range", errors.New("price exceeds uint32"))
	}

	nonceBytes := common.GenerateRandByteArray(32)
	if nonceBytes == nil {
		return nil, common.Internal("intent_failed", errors.New("random nonce"))
	}
	var nonce [32]byte
	copy(nonce[:], nonceBytes)

	expiresAt := uint64(now.Add(s.settings.TTL).Unix())
	tuple := signer.Tuple{
		Contract:   contract,
		Payer:      ethcommon.HexToAddress(payer),
		SizeBytes:  job.SizeBytes,
		PriceCents: uint32(quote.PriceCents),
		ExpiresAt:  expiresAt,
		Nonce:      nonce,
	}
	res, err := s.build(tuple)
	if err != nil {
		return nil, err
	}
	if job.ReservationID != "" && job.ReservationID != res.ReservationID {
		return nil, common.Conflict("reserve_reservation_id_mismatch")
	}

	_, err = mutateJob(ctx, repo, job.ID, func(j *models.PublishJob) error {
		if j.UploadStatus != models.UploadUploaded || j.State != models.StateAwaitingPayment {
			return common.Conflict("job_not_ready_for_reserve")
		}
		if j.ReservationID != "" && j.ReservationID != res.ReservationID {
			return common.Conflict("reserve_reservation_id_mismatch")
		}
		j.Quote = &models.ReserveQuote{
			Payer:           payer,
			PriceCents:      tuple.PriceCents,
			ExpiresAt:       expiresAt,
			Nonce:           res.Nonce,
			IntentCreatedAt: now.UTC(),
		}
		j.ReservationID = res.ReservationID
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.limiter.MarkActive(payer, job.ID, time.Unix(int64(expiresAt), 0))
	s.metrics.RecordQuote("new")
	s.log.Info(ctx, "reservation quote issued", "job_id", job.ID, "reservation_id", res.ReservationID,
		"price_cents", tuple.PriceCents, "expires_at", expiresAt)

	b := quote.Breakdown
	res.Breakdown = &b
	return res, nil
}

// build derives the reservation id, signs it and lays out the contract call.
func (s *ReservationService) build(t signer.Tuple) (*IntentResult, error) {
	digest, err := signer.Digest(t)
	if err != nil {
		return nil, common.Internal("quote_out_of_range", err)
	}
	sig, err := s.signer.Sign(digest)
	if err != nil {
		return nil, common.Internal("intent_failed", err)
	}

	nonceHex := hexutil.Encode(t.Nonce[:])
	sigHex := hexutil.Encode(sig)
	id := hexutil.Encode(digest[:])

	return &IntentResult{
		ChainID:         s.settings.ChainID,
		ContractAddress: t.Contract.Hex(),
		FunctionName:    ReserveFunction,
		Args: []any{
			strconv.FormatUint(t.SizeBytes, 10),
			t.PriceCents,
			t.ExpiresAt,
			nonceHex,
			sigHex,
		},
		Value:         "0",
		ReservationID: id,
		Digest:        id,
		PriceCents:    t.PriceCents,
		ExpiresAt:     t.ExpiresAt,
		Nonce:         nonceHex,
		Signature:     sigHex,
	}, nil
}

func decodeNonce(s string) ([32]byte, error) {
	var out [32]byte
	b, err := hex.DecodeString(strings.TrimPrefix(s, "0x"))
	if err != nil {
		return out, err
	}
	if len(b) != len(out) {
		return out, errors.New("nonce must be 32 bytes")
	}
	copy(out[:], b)
	return out, nil
}
