package event

import (
	"bytes"
	"encoding/base64"
	"testing"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
)

const testProgram = "SwapProg1111111111111111111111111111111111"

func encodePayload(t *testing.T, name string, v interface{}) string {
	t.Helper()

	buf := new(bytes.Buffer)
	disc := DiscriminatorFor(name)
	buf.Write(disc[:])

	if err := bin.NewBorshEncoder(buf).Encode(v); err != nil {
		t.Fatalf("encode payload: %v", err)
	}

	return programDataPrefix + base64.StdEncoding.EncodeToString(buf.Bytes())
}

func TestLogDecoder_Swap(t *testing.T) {
	pool := solana.NewWallet().PublicKey()
	user := solana.NewWallet().PublicKey()

	line := encodePayload(t, string(KindSwap), struct {
		Pool      solana.PublicKey
		User      solana.PublicKey
		AmountIn  uint64
		AmountOut uint64
		Timestamp int64
	}{pool, user, 1000, 990, 1700000000})

	logs := []string{
		"Program " + testProgram + " invoke [1]",
		line,
		"Program " + testProgram + " success",
	}

	dec := NewLogDecoder([]string{testProgram}, nil)
	events, err := dec.Decode(logs, "sig1", 42)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}

	swap, ok := events[0].(*SwapEvent)
	if !ok {
		t.Fatalf("expected *SwapEvent, got %T", events[0])
	}
	if swap.Kind() != KindSwap {
		t.Errorf("expected kind Swap, got %s", swap.Kind())
	}
	if swap.Signature() != "sig1" {
		t.Errorf("expected signature sig1, got %s", swap.Signature())
	}
	if swap.Slot() != 42 {
		t.Errorf("expected slot 42, got %d", swap.Slot())
	}
	if swap.Pool != pool || swap.User != user {
		t.Error("pubkeys did not round-trip")
	}
	if swap.AmountIn != 1000 || swap.AmountOut != 990 {
		t.Errorf("amounts did not round-trip: %d/%d", swap.AmountIn, swap.AmountOut)
	}
	if swap.LogIndex != 1 {
		t.Errorf("expected log index 1, got %d", swap.LogIndex)
	}
}

func TestLogDecoder_MultipleEventsOneTransaction(t *testing.T) {
	deposit := encodePayload(t, string(KindDeposit), struct {
		Vault     solana.PublicKey
		Depositor solana.PublicKey
		Amount    uint64
		Timestamp int64
	}{solana.NewWallet().PublicKey(), solana.NewWallet().PublicKey(), 500, 1700000000})

	withdraw := encodePayload(t, string(KindWithdraw), struct {
		Vault      solana.PublicKey
		Withdrawer solana.PublicKey
		Amount     uint64
		Timestamp  int64
	}{solana.NewWallet().PublicKey(), solana.NewWallet().PublicKey(), 200, 1700000001})

	dec := NewLogDecoder([]string{testProgram}, nil)
	events, err := dec.Decode([]string{deposit, withdraw}, "sig2", 7)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if events[0].Kind() != KindDeposit || events[1].Kind() != KindWithdraw {
		t.Errorf("unexpected kinds: %s, %s", events[0].Kind(), events[1].Kind())
	}
	if events[0].ID() == events[1].ID() {
		t.Error("events from the same transaction must have distinct ids")
	}
}

func TestLogDecoder_UnknownDiscriminatorSkipped(t *testing.T) {
	line := encodePayload(t, "SomeOtherEvent", struct {
		Amount uint64
	}{1})

	dec := NewLogDecoder([]string{testProgram}, nil)
	events, err := dec.Decode([]string{line}, "sig3", 1)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if len(events) != 0 {
		t.Fatalf("expected 0 events for unknown discriminator, got %d", len(events))
	}
}

func TestLogDecoder_MalformedLinesSkipped(t *testing.T) {
	logs := []string{
		programDataPrefix + "not-valid-base64!!!",
		programDataPrefix + base64.StdEncoding.EncodeToString([]byte{1, 2, 3}), // too short
		"Program log: hello",
	}

	dec := NewLogDecoder([]string{testProgram}, nil)
	events, err := dec.Decode(logs, "sig4", 1)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if len(events) != 0 {
		t.Fatalf("expected 0 events, got %d", len(events))
	}
}

func TestProgramFromLogs(t *testing.T) {
	logs := []string{"Program " + testProgram + " invoke [1]"}

	got, ok := ProgramFromLogs(logs, []string{testProgram})
	if !ok || got != testProgram {
		t.Errorf("expected %s, got %s (ok=%v)", testProgram, got, ok)
	}

	_, ok = ProgramFromLogs(logs, []string{"OtherProg"})
	if ok {
		t.Error("expected no match for untracked program")
	}
}
