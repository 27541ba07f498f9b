package chain

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

const (
	eventReservationCreated = "ReservationCreated"
	methodReservations      = "reservations"
	methodFinalizePost      = "finalizePost"
)

// contractABI is the subset of the payment contract this service reads and
// writes.
const contractABI = `[
  {"anonymous":false,"name":"ReservationCreated","type":"event","inputs":[
    {"indexed":true,"name":"reservationId","type":"bytes32"},
    {"indexed":true,"name":"payer","type":"address"},
    {"indexed":false,"name":"sizeBytes","type":"uint64"},
    {"indexed":false,"name":"priceCents","type":"uint32"},
    {"indexed":false,"name":"expiresAt","type":"uint40"}]},
  {"name":"reservations","type":"function","stateMutability":"view",
   "inputs":[{"name":"","type":"bytes32"}],
   "outputs":[
    {"name":"payer","type":"address"},
    {"name":"sizeBytes","type":"uint64"},
    {"name":"priceCents","type":"uint32"},
    {"name":"createdAt","type":"uint40"},
    {"name":"expiresAt","type":"uint40"},
    {"name":"status","type":"uint8"}]},
  {"name":"finalizePost","type":"function","stateMutability":"nonpayable",
   "inputs":[
    {"name":"reservationId","type":"bytes32"},
    {"name":"arTx","type":"string"},
    {"name":"title","type":"string"},
    {"name":"mime","type":"string"}],
   "outputs":[]}
]`

// ParsedABI returns the parsed contract interface.
func ParsedABI() abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(contractABI))
	if err != nil {
		panic(err)
	}
	return parsed
}
