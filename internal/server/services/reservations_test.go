package services

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/ABCWORK9/mintydoc/internal/common"
	"github.com/ABCWORK9/mintydoc/internal/server/models"
	"github.com/ABCWORK9/mintydoc/internal/server/signer"
	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func wallet(n int) string {
	return fmt.Sprintf("0x%040x", n)
}

func TestIntent_EndToEnd(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.uploads.Initiate(ctx, InitiateRequest{Wallet: testWallet, SHA256: testSHA, SizeBytes: 1000})
	require.NoError(t, err)
	job, err := f.uploads.Get(ctx, res.JobID)
	require.NoError(t, err)
	assert.Equal(t, models.StateAwaitingUpload, job.State)
	assert.Equal(t, models.UploadInitiated, job.UploadStatus)

	_, err = f.uploads.PresignPart(ctx, res.JobID, 1, nil)
	require.NoError(t, err)
	job, _ = f.uploads.Get(ctx, res.JobID)
	assert.Equal(t, models.UploadUploading, job.UploadStatus)

	require.NoError(t, f.uploads.Complete(ctx, res.JobID, blobPart(1, "etag1")))
	job, _ = f.uploads.Get(ctx, res.JobID)
	assert.Equal(t, models.StateAwaitingPayment, job.State)
	assert.Equal(t, models.UploadUploaded, job.UploadStatus)

	intent, err := f.reserve.Intent(ctx, IntentRequest{JobID: res.JobID, Payer: testWallet, ClientIP: "10.0.0.1"})
	require.NoError(t, err)

	assert.Equal(t, int64(31337), intent.ChainID)
	assert.Equal(t, ReserveFunction, intent.FunctionName)
	assert.Equal(t, "0", intent.Value)
	require.Len(t, intent.Args, 5)
	assert.Equal(t, "1000", intent.Args[0])
	assert.Equal(t, uint32(250), intent.Args[1])
	assert.False(t, intent.Reissued)
	require.NotNil(t, intent.Breakdown)
	assert.Equal(t, uint64(250), intent.Breakdown.TotalCents)

	digest, err := hexutil.Decode(intent.Digest)
	require.NoError(t, err)
	sig, err := hexutil.Decode(intent.Signature)
	require.NoError(t, err)
	var d [32]byte
	copy(d[:], digest)
	assert.True(t, signer.Verify(d, sig, f.signer.Address()))

	// the stored fields reproduce the stored reservation id
	job, _ = f.uploads.Get(ctx, res.JobID)
	require.NotNil(t, job.Quote)
	nonce, err := decodeNonce(job.Quote.Nonce)
	require.NoError(t, err)
	again, err := signer.Digest(signer.Tuple{
		Contract:   ethcommon.HexToAddress(testContract),
		Payer:      ethcommon.HexToAddress(job.Quote.Payer),
		SizeBytes:  job.SizeBytes,
		PriceCents: job.Quote.PriceCents,
		ExpiresAt:  job.Quote.ExpiresAt,
		Nonce:      nonce,
	})
	require.NoError(t, err)
	assert.Equal(t, job.ReservationID, hexutil.Encode(again[:]))
	assert.Equal(t, intent.ReservationID, job.ReservationID)
}

func TestIntent_ReissueIsIdentical(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	jobID := f.uploaded(t, testWallet)

	first, err := f.reserve.Intent(ctx, IntentRequest{JobID: jobID})
	require.NoError(t, err)

	f.quoter.cents = 999
	second, err := f.reserve.Intent(ctx, IntentRequest{JobID: jobID})
	require.NoError(t, err)

	assert.True(t, second.Reissued)
	assert.Equal(t, first.PriceCents, second.PriceCents)
	assert.Equal(t, first.Nonce, second.Nonce)
	assert.Equal(t, first.ReservationID, second.ReservationID)
	assert.Equal(t, first.ExpiresAt, second.ExpiresAt)
	assert.Equal(t, first.Signature, second.Signature)
	assert.Equal(t, 1, f.quoter.calls)
}

func TestIntent_ExpiredQuoteCannotRebind(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	jobID := f.uploaded(t, testWallet)

	_, err := f.reserve.Intent(ctx, IntentRequest{JobID: jobID})
	require.NoError(t, err)

	f.reserve.now = func() time.Time { return time.Now().Add(time.Hour) }
	_, err = f.reserve.Intent(ctx, IntentRequest{JobID: jobID})
	assert.Equal(t, "reserve_reservation_id_mismatch", common.CodeOf(err))
}

func TestIntent_Preconditions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.reserve.Intent(ctx, IntentRequest{JobID: " "})
	assert.Equal(t, "invalid_jobId", common.CodeOf(err))

	_, err = f.reserve.Intent(ctx, IntentRequest{JobID: "nope"})
	assert.Equal(t, "job_not_found", common.CodeOf(err))

	res, err := f.uploads.Initiate(ctx, InitiateRequest{Wallet: testWallet, SHA256: testSHA, SizeBytes: 5})
	require.NoError(t, err)
	_, err = f.reserve.Intent(ctx, IntentRequest{JobID: res.JobID})
	assert.Equal(t, "job_not_ready_for_reserve", common.CodeOf(err))

	jobID := f.uploaded(t, testWallet)
	_, err = f.reserve.Intent(ctx, IntentRequest{JobID: jobID, Payer: "bob"})
	assert.Equal(t, "invalid_payer", common.CodeOf(err))
}

func TestIntent_PayerMismatch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	jobID := f.uploaded(t, testWallet)

	_, err := f.reserve.Intent(ctx, IntentRequest{JobID: jobID, Payer: testWallet})
	require.NoError(t, err)

	_, err = f.reserve.Intent(ctx, IntentRequest{JobID: jobID, Payer: wallet(7)})
	assert.Equal(t, "reserve_payer_mismatch", common.CodeOf(err))
}

func TestIntent_Misconfigured(t *testing.T) {
	f := newFixture(t)
	jobID := f.uploaded(t, testWallet)

	f.reserve.settings.ContractAddress = ""
	_, err := f.reserve.Intent(context.Background(), IntentRequest{JobID: jobID})
	assert.Equal(t, "server_misconfigured", common.CodeOf(err))

	f.reserve.settings.ContractAddress = testContract
	f.reserve.signer = nil
	_, err = f.reserve.Intent(context.Background(), IntentRequest{JobID: jobID})
	assert.Equal(t, "server_misconfigured", common.CodeOf(err))
}

func TestIntent_QuoteOutOfRange(t *testing.T) {
	f := newFixture(t)
	jobID := f.uploaded(t, testWallet)

	f.quoter.cents = 1 << 32
	_, err := f.reserve.Intent(context.Background(), IntentRequest{JobID: jobID})
	assert.Equal(t, "quote_out_of_range", common.CodeOf(err))

	job, err := f.uploads.Get(context.Background(), jobID)
	require.NoError(t, err)
	assert.Nil(t, job.Quote)
	assert.Empty(t, job.ReservationID)
}

func TestIntent_QuoteFailureReturnsSlot(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.quoter.err = errors.New("feed down")
	jobID := f.uploaded(t, testWallet)
	for i := 0; i < 5; i++ {
		_, err := f.reserve.Intent(ctx, IntentRequest{JobID: jobID})
		assert.Equal(t, "intent_failed", common.CodeOf(err))
	}

	f.quoter.err = nil
	_, err := f.reserve.Intent(ctx, IntentRequest{JobID: jobID})
	assert.NoError(t, err)
}

func TestIntent_IPRateLimit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	jobID := f.uploaded(t, testWallet)

	for i := 0; i < 20; i++ {
		_, err := f.reserve.Intent(ctx, IntentRequest{JobID: jobID, ClientIP: "192.0.2.1"})
		require.NoError(t, err, "request %d", i+1)
	}
	_, err := f.reserve.Intent(ctx, IntentRequest{JobID: jobID, ClientIP: "192.0.2.1"})
	assert.Equal(t, "ip_rate_limit", common.CodeOf(err))

	_, err = f.reserve.Intent(ctx, IntentRequest{JobID: jobID, ClientIP: "192.0.2.2"})
	assert.NoError(t, err)
}

func TestIntent_ActiveReservationLock(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	first := f.uploaded(t, testWallet)
	second := f.uploaded(t, testWallet)

	_, err := f.reserve.Intent(ctx, IntentRequest{JobID: first, ClientRequestID: "req-1"})
	require.NoError(t, err)

	_, err = f.reserve.Intent(ctx, IntentRequest{JobID: second, ClientRequestID: "req-2"})
	assert.Equal(t, "active_reservation_limit", common.CodeOf(err))

	// a retry flagged with the same client request id skips the lock
	_, err = f.reserve.Intent(ctx, IntentRequest{JobID: second, ClientRequestID: "req-1"})
	assert.NoError(t, err)
}

func TestIntent_HourlyWalletCap(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		jobID := f.uploaded(t, testWallet)
		_, err := f.reserve.Intent(ctx, IntentRequest{JobID: jobID})
		require.NoError(t, err)
		f.limiter.ReleaseActive(testWallet, jobID)
	}

	jobID := f.uploaded(t, testWallet)
	_, err := f.reserve.Intent(ctx, IntentRequest{JobID: jobID})
	assert.Equal(t, "hourly_reservation_limit", common.CodeOf(err))

	// another wallet is unaffected
	other := f.uploaded(t, wallet(9))
	_, err = f.reserve.Intent(ctx, IntentRequest{JobID: other})
	assert.NoError(t, err)
}

func TestEstimate(t *testing.T) {
	f := newFixture(t)

	_, err := f.reserve.Estimate(context.Background(), 0)
	assert.Equal(t, "missing_sizeBytes", common.CodeOf(err))

	q, err := f.reserve.Estimate(context.Background(), 42)
	require.NoError(t, err)
	assert.Equal(t, uint64(250), q.PriceCents)

	f.quoter.err = errors.New("down")
	_, err = f.reserve.Estimate(context.Background(), 42)
	assert.Equal(t, "estimate_failed", common.CodeOf(err))
}
