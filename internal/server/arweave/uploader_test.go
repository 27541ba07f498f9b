package arweave

import (
	"context"
	"encoding/base64"
	"errors"
	"testing"

	"github.com/everFinance/goar/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSender struct {
	data []byte
	tags []types.Tag
	id   string
	err  error
}

func (f *fakeSender) SendData(data []byte, tags []types.Tag) (types.Transaction, error) {
	f.data = data
	f.tags = tags
	if f.err != nil {
		return types.Transaction{}, f.err
	}
	return types.Transaction{ID: f.id}, nil
}

func withSender(t *testing.T, s *fakeSender) {
	t.Helper()
	orig := newWallet
	t.Cleanup(func() { newWallet = orig })
	newWallet = func(jwk []byte, nodeURL string) (dataSender, error) {
		if string(jwk) != `{"kty":"RSA"}` {
			return nil, errors.New("bad jwk")
		}
		return s, nil
	}
}

func TestNew(t *testing.T) {
	withSender(t, &fakeSender{})

	_, err := New("", "")
	assert.ErrorIs(t, err, ErrNoWallet)

	_, err = New("", "***")
	assert.Error(t, err)

	_, err = New("", base64.StdEncoding.EncodeToString([]byte(`{}`)))
	assert.Error(t, err)

	u, err := New("", base64.StdEncoding.EncodeToString([]byte(`{"kty":"RSA"}`)))
	require.NoError(t, err)
	assert.NotNil(t, u)
}

func TestUpload(t *testing.T) {
	s := &fakeSender{id: "tx-1"}
	u := &Uploader{wallet: s}

	id, err := u.Upload(context.Background(), []byte("hello"), "text/plain")
	require.NoError(t, err)
	assert.Equal(t, "tx-1", id)
	assert.Equal(t, []byte("hello"), s.data)
	assert.Equal(t, []types.Tag{{Name: "Content-Type", Value: "text/plain"}}, s.tags)

	s.id = ""
	_, err = u.Upload(context.Background(), []byte("x"), "")
	assert.ErrorIs(t, err, ErrNoTxID)
	assert.Empty(t, s.tags)

	s.err = errors.New("node down")
	_, err = u.Upload(context.Background(), []byte("x"), "")
	assert.ErrorContains(t, err, "node down")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = u.Upload(ctx, []byte("x"), "")
	assert.ErrorIs(t, err, context.Canceled)
}
