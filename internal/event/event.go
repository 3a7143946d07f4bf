// Package event defines the typed on-chain events produced by the decoder
// and consumed by the ingestion pipeline.
package event

import (
	"fmt"

	"github.com/gagliardetto/solana-go"
)

// Kind discriminates the event variants.
type Kind string

const (
	KindSwap        Kind = "Swap"
	KindDeposit     Kind = "Deposit"
	KindWithdraw    Kind = "Withdraw"
	KindLiquidation Kind = "Liquidation"
)

// Kinds returns every registered event kind.
func Kinds() []Kind {
	return []Kind{KindSwap, KindDeposit, KindWithdraw, KindLiquidation}
}

// Meta carries the attributes common to every event variant. Events are
// created once by the decoder and never mutated afterwards.
type Meta struct {
	// TxSignature identifies the transaction that emitted the event.
	TxSignature string `json:"signature"`

	// TxSlot is the slot the transaction landed in.
	TxSlot uint64 `json:"slot"`

	// LogIndex is the position of the payload line within the
	// transaction's log output. Together with the signature and kind it
	// forms the natural identifier used for idempotent storage.
	LogIndex int `json:"log_index"`
}

func (m Meta) Signature() string { return m.TxSignature }
func (m Meta) Slot() uint64      { return m.TxSlot }
func (m Meta) Index() int        { return m.LogIndex }

func (m Meta) id(k Kind) string {
	return fmt.Sprintf("%s:%d:%s", m.TxSignature, m.LogIndex, k)
}

// Event is the closed union of on-chain event variants.
type Event interface {
	Kind() Kind
	Signature() string
	Slot() uint64

	// Index is the position of the payload line within the transaction's
	// log output.
	Index() int

	// ID returns the natural identifier used for idempotent storage.
	ID() string

	isEvent()
}

// SwapEvent is emitted when a pool swap executes.
type SwapEvent struct {
	Meta
	Pool      solana.PublicKey `json:"pool"`
	User      solana.PublicKey `json:"user"`
	AmountIn  uint64           `json:"amount_in"`
	AmountOut uint64           `json:"amount_out"`
	Timestamp int64            `json:"timestamp"`
}

func (e *SwapEvent) Kind() Kind { return KindSwap }
func (e *SwapEvent) ID() string { return e.id(KindSwap) }
func (e *SwapEvent) isEvent()   {}

// DepositEvent is emitted when liquidity is deposited into a vault.
type DepositEvent struct {
	Meta
	Vault     solana.PublicKey `json:"vault"`
	Depositor solana.PublicKey `json:"depositor"`
	Amount    uint64           `json:"amount"`
	Timestamp int64            `json:"timestamp"`
}

func (e *DepositEvent) Kind() Kind { return KindDeposit }
func (e *DepositEvent) ID() string { return e.id(KindDeposit) }
func (e *DepositEvent) isEvent()   {}

// WithdrawEvent is emitted when liquidity is withdrawn from a vault.
type WithdrawEvent struct {
	Meta
	Vault      solana.PublicKey `json:"vault"`
	Withdrawer solana.PublicKey `json:"withdrawer"`
	Amount     uint64           `json:"amount"`
	Timestamp  int64            `json:"timestamp"`
}

func (e *WithdrawEvent) Kind() Kind { return KindWithdraw }
func (e *WithdrawEvent) ID() string { return e.id(KindWithdraw) }
func (e *WithdrawEvent) isEvent()   {}

// LiquidationEvent is emitted when a position is liquidated.
type LiquidationEvent struct {
	Meta
	Position   solana.PublicKey `json:"position"`
	Liquidator solana.PublicKey `json:"liquidator"`
	Collateral uint64           `json:"collateral"`
	Debt       uint64           `json:"debt"`
	Timestamp  int64            `json:"timestamp"`
}

func (e *LiquidationEvent) Kind() Kind { return KindLiquidation }
func (e *LiquidationEvent) ID() string { return e.id(KindLiquidation) }
func (e *LiquidationEvent) isEvent()   {}
