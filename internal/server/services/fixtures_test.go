package services

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/ABCWORK9/mintydoc/internal/logging"
	"github.com/ABCWORK9/mintydoc/internal/server/metrics"
	"github.com/ABCWORK9/mintydoc/internal/server/pricing"
	"github.com/ABCWORK9/mintydoc/internal/server/ratelimit"
	"github.com/ABCWORK9/mintydoc/internal/server/repositories/repomanager"
	"github.com/ABCWORK9/mintydoc/internal/server/signer"
	"github.com/ABCWORK9/mintydoc/internal/server/storage/blob"
	"github.com/stretchr/testify/require"
)

const (
	testWallet   = "0x00000000000000000000000000000000000abc01"
	testContract = "0x5FbDB2315678afecb367f032d93F642f64180aa3"
	testKey      = "b71c71a67e1177ad4e901695e1b4b9ee17ae16c6668d313eac2f96dbcda3f291"
)

var testSHA = strings.Repeat("aa", 32)

// flakyStore wraps MemoryStore and fails the named operations.
type flakyStore struct {
	*blob.MemoryStore
	failCreate   error
	failPresign  error
	failComplete error
	failAbort    error
}

func newFlakyStore() *flakyStore {
	return &flakyStore{MemoryStore: blob.NewMemoryStore()}
}

func (f *flakyStore) CreateMultipartUpload(ctx context.Context, key, contentType string) (string, error) {
	if f.failCreate != nil {
		return "", f.failCreate
	}
	return f.MemoryStore.CreateMultipartUpload(ctx, key, contentType)
}

func (f *flakyStore) PresignUploadPart(ctx context.Context, key, uploadID string, n int32, exp time.Duration) (string, error) {
	if f.failPresign != nil {
		return "", f.failPresign
	}
	return f.MemoryStore.PresignUploadPart(ctx, key, uploadID, n, exp)
}

func (f *flakyStore) CompleteMultipartUpload(ctx context.Context, key, uploadID string, parts []blob.Part) error {
	if f.failComplete != nil {
		return f.failComplete
	}
	return f.MemoryStore.CompleteMultipartUpload(ctx, key, uploadID, parts)
}

func (f *flakyStore) AbortMultipartUpload(ctx context.Context, key, uploadID string) error {
	if f.failAbort != nil {
		return f.failAbort
	}
	return f.MemoryStore.AbortMultipartUpload(ctx, key, uploadID)
}

type stubQuoter struct {
	cents uint64
	err   error
	calls int
}

func (q *stubQuoter) Quote(_ context.Context, size uint64) (*pricing.Quote, error) {
	q.calls++
	if q.err != nil {
		return nil, q.err
	}
	return &pricing.Quote{
		PriceCents: q.cents,
		Breakdown:  pricing.ComputeBreakdown(q.cents, 0, 1),
	}, nil
}

type fixture struct {
	rm      repomanager.RepositoryManager
	store   *flakyStore
	quoter  *stubQuoter
	signer  *signer.LocalSigner
	limiter *ratelimit.Limiter
	uploads *UploadService
	reserve *ReservationService
}

func defaultLimits() ratelimit.Limits {
	return ratelimit.Limits{
		IPRequests:     20,
		IPWindow:       10 * time.Minute,
		WalletPerHour:  3,
		IdempotencyTTL: 5 * time.Minute,
		CacheSize:      100,
	}
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	sig, err := signer.NewLocalSigner(testKey)
	require.NoError(t, err)

	f := &fixture{
		rm:      repomanager.NewInMemoryRepositoryManager(),
		store:   newFlakyStore(),
		quoter:  &stubQuoter{cents: 250},
		signer:  sig,
		limiter: ratelimit.New(defaultLimits()),
	}
	m := metrics.NewCollector()
	log := logging.NewNop()

	f.uploads = NewUploadService(nil, f.rm, f.store, m, log)
	f.reserve = NewReservationService(nil, f.rm, f.quoter, sig, f.limiter, ReservationSettings{
		ChainID:         31337,
		ContractAddress: testContract,
		TTL:             10 * time.Minute,
	}, m, log)
	return f
}

// uploaded drives a fresh job for wallet to awaiting_payment.
func (f *fixture) uploaded(t *testing.T, wallet string) string {
	t.Helper()
	ctx := context.Background()

	res, err := f.uploads.Initiate(ctx, InitiateRequest{Wallet: wallet, SHA256: testSHA, SizeBytes: 1000})
	require.NoError(t, err)
	_, err = f.uploads.PresignPart(ctx, res.JobID, 1, nil)
	require.NoError(t, err)
	etag, err := f.store.PutPart(res.UploadID, 1, []byte("payload"))
	require.NoError(t, err)
	require.NoError(t, f.uploads.Complete(ctx, res.JobID, []blob.Part{{Number: 1, ETag: etag}}))
	return res.JobID
}

var errBoom = errors.New("boom")

func blobPart(n int32, etag string) []blob.Part {
	return []blob.Part{{Number: n, ETag: etag}}
}
