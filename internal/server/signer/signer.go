package signer

import (
	"crypto/ecdsa"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/ABCWORK9/mintydoc/internal/common"
	"github.com/ethereum/go-ethereum/accounts"
	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

var ErrBadSignature = errors.New("malformed signature")

// Signer produces an authorization signature over a reservation digest.
// Implementations must be safe for concurrent use.
type Signer interface {
	Sign(digest [32]byte) ([]byte, error)
	Address() ethcommon.Address
}

// LocalSigner holds a secp256k1 key in memory and signs with the Ethereum
// personal-message prefix, the form the contract checks with ecrecover.
type LocalSigner struct {
	key  *ecdsa.PrivateKey
	addr ethcommon.Address
}

// NewLocalSigner parses a hex private key, with or without 0x.
func NewLocalSigner(hexKey string) (*LocalSigner, error) {
	raw, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(hexKey), "0x"))
	if err != nil {
		return nil, fmt.Errorf("parse signer key: %w", err)
	}
	defer common.WipeByteArray(raw)

	key, err := crypto.ToECDSA(raw)
	if err != nil {
		return nil, fmt.Errorf("parse signer key: %w", err)
	}
	return &LocalSigner{key: key, addr: crypto.PubkeyToAddress(key.PublicKey)}, nil
}

func (s *LocalSigner) Address() ethcommon.Address {
	return s.addr
}

func (s *LocalSigner) Sign(digest [32]byte) ([]byte, error) {
	sig, err := crypto.Sign(accounts.TextHash(digest[:]), s.key)
	if err != nil {
		return nil, err
	}
	sig[crypto.RecoveryIDOffset] += 27
	return sig, nil
}

// Recover returns the address that produced sig over digest.
func Recover(digest [32]byte, sig []byte) (ethcommon.Address, error) {
	if len(sig) != crypto.SignatureLength {
		return ethcommon.Address{}, ErrBadSignature
	}
	s := make([]byte, len(sig))
	copy(s, sig)
	if s[crypto.RecoveryIDOffset] >= 27 {
		s[crypto.RecoveryIDOffset] -= 27
	}
	pub, err := crypto.SigToPub(accounts.TextHash(digest[:]), s)
	if err != nil {
		return ethcommon.Address{}, fmt.Errorf("%w: %v", ErrBadSignature, err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}

// Verify reports whether sig over digest was made by want.
func Verify(digest [32]byte, sig []byte, want ethcommon.Address) bool {
	got, err := Recover(digest, sig)
	return err == nil && got == want
}
