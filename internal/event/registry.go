package event

import (
	"crypto/sha256"
	"fmt"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
)

// Discriminator is the 8-byte prefix identifying an event kind inside an
// otherwise opaque payload. Anchor derives it from the event name.
type Discriminator [8]byte

// DiscriminatorFor computes the discriminator for a named event.
func DiscriminatorFor(name string) Discriminator {
	h := sha256.Sum256([]byte("event:" + name))
	var d Discriminator
	copy(d[:], h[:8])
	return d
}

type decodeFunc func(data []byte, meta Meta) (Event, error)

type registration struct {
	kind   Kind
	decode decodeFunc
}

var registry = map[Discriminator]registration{
	DiscriminatorFor(string(KindSwap)):        {KindSwap, decodeSwap},
	DiscriminatorFor(string(KindDeposit)):     {KindDeposit, decodeDeposit},
	DiscriminatorFor(string(KindWithdraw)):    {KindWithdraw, decodeWithdraw},
	DiscriminatorFor(string(KindLiquidation)): {KindLiquidation, decodeLiquidation},
}

func decodeSwap(data []byte, meta Meta) (Event, error) {
	var w struct {
		Pool      solana.PublicKey
		User      solana.PublicKey
		AmountIn  uint64
		AmountOut uint64
		Timestamp int64
	}
	if err := bin.NewBorshDecoder(data).Decode(&w); err != nil {
		return nil, fmt.Errorf("decode swap: %w", err)
	}
	return &SwapEvent{
		Meta:      meta,
		Pool:      w.Pool,
		User:      w.User,
		AmountIn:  w.AmountIn,
		AmountOut: w.AmountOut,
		Timestamp: w.Timestamp,
	}, nil
}

func decodeDeposit(data []byte, meta Meta) (Event, error) {
	var w struct {
		Vault     solana.PublicKey
		Depositor solana.PublicKey
		Amount    uint64
		Timestamp int64
	}
	if err := bin.NewBorshDecoder(data).Decode(&w); err != nil {
		return nil, fmt.Errorf("decode deposit: %w", err)
	}
	return &DepositEvent{
		Meta:      meta,
		Vault:     w.Vault,
		Depositor: w.Depositor,
		Amount:    w.Amount,
		Timestamp: w.Timestamp,
	}, nil
}

func decodeWithdraw(data []byte, meta Meta) (Event, error) {
	var w struct {
		Vault      solana.PublicKey
		Withdrawer solana.PublicKey
		Amount     uint64
		Timestamp  int64
	}
	if err := bin.NewBorshDecoder(data).Decode(&w); err != nil {
		return nil, fmt.Errorf("decode withdraw: %w", err)
	}
	return &WithdrawEvent{
		Meta:       meta,
		Vault:      w.Vault,
		Withdrawer: w.Withdrawer,
		Amount:     w.Amount,
		Timestamp:  w.Timestamp,
	}, nil
}

func decodeLiquidation(data []byte, meta Meta) (Event, error) {
	var w struct {
		Position   solana.PublicKey
		Liquidator solana.PublicKey
		Collateral uint64
		Debt       uint64
		Timestamp  int64
	}
	if err := bin.NewBorshDecoder(data).Decode(&w); err != nil {
		return nil, fmt.Errorf("decode liquidation: %w", err)
	}
	return &LiquidationEvent{
		Meta:       meta,
		Position:   w.Position,
		Liquidator: w.Liquidator,
		Collateral: w.Collateral,
		Debt:       w.Debt,
		Timestamp:  w.Timestamp,
	}, nil
}
