// Package signer derives reservation ids and signs them for on-chain
// verification by the payment contract.
package signer

import (
	"encoding/binary"
	"errors"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"golang.org/x/crypto/sha3"
)

// MaxExpiresAt is the largest value a uint40 field can hold.
const MaxExpiresAt = 1<<40 - 1

var ErrOutOfRange = errors.New("reservation field out of range")

// Tuple is every economically relevant reservation parameter.
type Tuple struct {
	Contract   ethcommon.Address
	Payer      ethcommon.Address
	SizeBytes  uint64
	PriceCents uint32
	// ExpiresAt is Unix seconds and must fit in 40 bits.
	ExpiresAt uint64
	Nonce     [32]byte
}

// Digest returns keccak256(abi.encodePacked(address contract, address payer,
// uint64 sizeBytes, uint32 priceCents, uint40 expiresAt, uint256 nonce)).
// The contract recomputes the same value, so it doubles as the reservation id.
func Digest(t Tuple) ([32]byte, error) {
	var out [32]byte
	if t.ExpiresAt > MaxExpiresAt {
		return out, ErrOutOfRange
	}

	packed := make([]byte, 0, 20+20+8+4+5+32)
	packed = append(packed, t.Contract.Bytes()...)
	packed = append(packed, t.Payer.Bytes()...)
	packed = binary.BigEndian.AppendUint64(packed, t.SizeBytes)
	packed = binary.BigEndian.AppendUint32(packed, t.PriceCents)

	var exp [8]byte
	binary.BigEndian.PutUint64(exp[:], t.ExpiresAt)
	packed = append(packed, exp[3:]...)
	packed = append(packed, t.Nonce[:]...)

	h := sha3.NewLegacyKeccak256()
	h.Write(packed)
	h.Sum(out[:0])
	return out, nil
}
