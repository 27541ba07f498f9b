// Package arweave uploads finished payloads to the permanent-storage network.
package arweave

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/everFinance/goar"
	"github.com/everFinance/goar/types"
)

const DefaultNodeURL = "https://arweave.net"

var (
	ErrNoWallet = errors.New("arweave wallet is not configured")
	ErrNoTxID   = errors.New("arweave returned no transaction id")
)

// dataSender is the part of *goar.Wallet used here.
type dataSender interface {
	SendData(data []byte, tags []types.Tag) (types.Transaction, error)
}

var newWallet = func(jwk []byte, nodeURL string) (dataSender, error) {
	w, err := goar.NewWallet(jwk, nodeURL)
	if err != nil {
		return nil, err
	}
	return w, nil
}

// Uploader signs and posts data transactions with one wallet. goar wallets
// are safe for concurrent use.
type Uploader struct {
	wallet dataSender
}

// New loads the JWK wallet from its base64 encoding.
func New(nodeURL, walletB64 string) (*Uploader, error) {
	walletB64 = strings.TrimSpace(walletB64)
	if walletB64 == "" {
		return nil, ErrNoWallet
	}
	jwk, err := base64.StdEncoding.DecodeString(walletB64)
	if err != nil {
		return nil, fmt.Errorf("decode arweave wallet: %w", err)
	}
	if nodeURL == "" {
		nodeURL = DefaultNodeURL
	}
	w, err := newWallet(jwk, nodeURL)
	if err != nil {
		return nil, fmt.Errorf("load arweave wallet: %w", err)
	}
	return &Uploader{wallet: w}, nil
}

// Upload posts data tagged with its content type and returns the
// transaction id.
func (u *Uploader) Upload(ctx context.Context, data []byte, contentType string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	var tags []types.Tag
	if contentType != "" {
		tags = append(tags, types.Tag{Name: "Content-Type", Value: contentType})
	}

	tx, err := u.wallet.SendData(data, tags)
	if err != nil {
		return "", fmt.Errorf("send arweave data: %w", err)
	}
	if tx.ID == "" {
		return "", ErrNoTxID
	}
	return tx.ID, nil
}
