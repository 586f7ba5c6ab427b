package solana

import (
	"fmt"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
)

// Confirmation is the successful outcome of a submit-confirm cycle.
type Confirmation struct {
	Signature solana.Signature
	Slot      uint64
}

// ExecutionError is a definitive on-chain rejection. The chain-reported
// error payload and any program logs captured via simulation are preserved
// so the error ledger keeps the root cause.
type ExecutionError struct {
	Signature solana.Signature
	TxErr     any
	Logs      []string
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("transaction %s failed on chain: %v", e.Signature, e.TxErr)
}

// TimeoutError means neither the websocket listener nor the status poller
// reported a definitive outcome within the wall-clock timeout. The
// transaction may or may not have landed; callers should treat it as not
// landed and safe to retry with a freshly built transaction.
type TimeoutError struct {
	Signature solana.Signature
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("timed out awaiting confirmation of %s; check the explorer before retrying", e.Signature)
}

// commitmentRank orders commitment tiers so a reported confirmation status
// can be compared against the requested level.
func commitmentRank(c rpc.CommitmentType) int {
	switch c {
	case rpc.CommitmentProcessed:
		return 0
	case rpc.CommitmentConfirmed:
		return 1
	case rpc.CommitmentFinalized:
		return 2
	default:
		return 1
	}
}

func statusRank(s rpc.ConfirmationStatusType) int {
	switch s {
	case rpc.ConfirmationStatusProcessed:
		return 0
	case rpc.ConfirmationStatusConfirmed:
		return 1
	case rpc.ConfirmationStatusFinalized:
		return 2
	default:
		return -1
	}
}

// statusReached reports whether a polled confirmation status satisfies the
// requested commitment level.
func statusReached(status rpc.ConfirmationStatusType, want rpc.CommitmentType) bool {
	return statusRank(status) >= commitmentRank(want)
}
