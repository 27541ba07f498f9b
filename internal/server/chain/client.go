// Package chain talks to the reservation payment contract: it reads
// reservation records, watches for new reservations and submits the
// finalize transaction.
package chain

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/event"
)

var (
	ErrNoOwnerKey        = errors.New("finalizer key is not configured")
	ErrTransactionFailed = errors.New("transaction reverted")
	ErrMalformedResult   = errors.New("unexpected contract result")
)

// Status mirrors the contract's reservation status enum.
type Status uint8

const (
	StatusNone Status = iota
	StatusReserved
	StatusFinalized
	StatusExpired
	StatusRefunded
)

func (s Status) String() string {
	switch s {
	case StatusNone:
		return "none"
	case StatusReserved:
		return "reserved"
	case StatusFinalized:
		return "finalized"
	case StatusExpired:
		return "expired"
	case StatusRefunded:
		return "refunded"
	}
	return fmt.Sprintf("status(%d)", uint8(s))
}

// Reservation is the on-chain record keyed by reservation id.
type Reservation struct {
	Payer      ethcommon.Address
	SizeBytes  uint64
	PriceCents uint32
	CreatedAt  uint64
	ExpiresAt  uint64
	Status     Status
}

// Expired reports whether the reservation window has passed at now.
func (r *Reservation) Expired(now time.Time) bool {
	return r.ExpiresAt != 0 && uint64(now.Unix()) > r.ExpiresAt
}

// Backend is the RPC surface the client needs. *ethclient.Client satisfies it.
type Backend interface {
	bind.ContractBackend
	bind.DeployBackend
}

// Settings configure the contract binding.
type Settings struct {
	RPCURL   string
	Contract string
	ChainID  int64
	// OwnerKey signs finalize transactions. Read-only when empty.
	OwnerKey string
}

type Client struct {
	backend  Backend
	abi      abi.ABI
	address  ethcommon.Address
	contract *bind.BoundContract
	chainID  *big.Int
	owner    *ecdsa.PrivateKey
	closer   func()
}

var dialBackend = func(ctx context.Context, url string) (Backend, func(), error) {
	c, err := ethclient.DialContext(ctx, url)
	if err != nil {
		return nil, nil, err
	}
	return c, c.Close, nil
}

// Dial connects to the RPC endpoint. Watching events needs a websocket URL.
func Dial(ctx context.Context, s Settings) (*Client, error) {
	backend, closer, err := dialBackend(ctx, s.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("dial rpc: %w", err)
	}
	c, err := NewClient(backend, s)
	if err != nil {
		closer()
		return nil, err
	}
	c.closer = closer
	return c, nil
}

// NewClient binds the contract on an existing backend.
func NewClient(backend Backend, s Settings) (*Client, error) {
	if !ethcommon.IsHexAddress(s.Contract) {
		return nil, fmt.Errorf("invalid contract address %q", s.Contract)
	}
	parsed := ParsedABI()
	address := ethcommon.HexToAddress(s.Contract)

	c := &Client{
		backend:  backend,
		abi:      parsed,
		address:  address,
		contract: bind.NewBoundContract(address, parsed, backend, backend, backend),
		chainID:  big.NewInt(s.ChainID),
	}
	if key := strings.TrimPrefix(strings.TrimSpace(s.OwnerKey), "0x"); key != "" {
		owner, err := crypto.HexToECDSA(key)
		if err != nil {
			return nil, fmt.Errorf("parse owner key: %w", err)
		}
		c.owner = owner
	}
	return c, nil
}

func (c *Client) Close() {
	if c.closer != nil {
		c.closer()
	}
}

func (c *Client) Address() ethcommon.Address {
	return c.address
}

// Reservation reads the on-chain record of id.
func (c *Client) Reservation(ctx context.Context, id ethcommon.Hash) (*Reservation, error) {
	var out []interface{}
	if err := c.contract.Call(&bind.CallOpts{Context: ctx}, &out, methodReservations, id); err != nil {
		return nil, fmt.Errorf("call reservations: %w", err)
	}
	if len(out) != 6 {
		return nil, ErrMalformedResult
	}

	payer, ok1 := out[0].(ethcommon.Address)
	size, ok2 := out[1].(uint64)
	price, ok3 := out[2].(uint32)
	created, ok4 := out[3].(*big.Int)
	expires, ok5 := out[4].(*big.Int)
	status, ok6 := out[5].(uint8)
	if !(ok1 && ok2 && ok3 && ok4 && ok5 && ok6) {
		return nil, ErrMalformedResult
	}

	return &Reservation{
		Payer:      payer,
		SizeBytes:  size,
		PriceCents: price,
		CreatedAt:  created.Uint64(),
		ExpiresAt:  expires.Uint64(),
		Status:     Status(status),
	}, nil
}

// Finalize submits finalizePost and waits for it to be mined. It returns
// the transaction hash.
func (c *Client) Finalize(ctx context.Context, id ethcommon.Hash, arTx, title, mime string) (string, error) {
	if c.owner == nil {
		return "", ErrNoOwnerKey
	}
	opts, err := bind.NewKeyedTransactorWithChainID(c.owner, c.chainID)
	if err != nil {
		return "", err
	}
	opts.Context = ctx

	tx, err := c.contract.Transact(opts, methodFinalizePost, id, arTx, title, mime)
	if err != nil {
		return "", fmt.Errorf("send finalizePost: %w", err)
	}
	receipt, err := bind.WaitMined(ctx, c.backend, tx)
	if err != nil {
		return tx.Hash().Hex(), fmt.Errorf("wait finalizePost: %w", err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return tx.Hash().Hex(), ErrTransactionFailed
	}
	return tx.Hash().Hex(), nil
}

// WatchReservations streams the ids of newly created reservations into sink
// until the subscription fails or is unsubscribed.
func (c *Client) WatchReservations(ctx context.Context, sink chan<- ethcommon.Hash) (event.Subscription, error) {
	logs, sub, err := c.contract.WatchLogs(&bind.WatchOpts{Context: ctx}, eventReservationCreated)
	if err != nil {
		return nil, fmt.Errorf("watch %s: %w", eventReservationCreated, err)
	}

	return event.NewSubscription(func(quit <-chan struct{}) error {
		defer sub.Unsubscribe()
		for {
			select {
			case l := <-logs:
				id, ok := c.ReservationID(l)
				if !ok {
					continue
				}
				select {
				case sink <- id:
				case err := <-sub.Err():
					return err
				case <-quit:
					return nil
				}
			case err := <-sub.Err():
				return err
			case <-quit:
				return nil
			}
		}
	}), nil
}

// ReservationID extracts the indexed reservation id from a
// ReservationCreated log.
func (c *Client) ReservationID(l types.Log) (ethcommon.Hash, bool) {
	ev, ok := c.abi.Events[eventReservationCreated]
	if !ok || l.Removed || len(l.Topics) < 2 || l.Topics[0] != ev.ID {
		return ethcommon.Hash{}, false
	}
	return l.Topics[1], true
}
