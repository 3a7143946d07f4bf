package solana

import (
	"bytes"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
)

func TestParseSignature(t *testing.T) {
	raw := bytes.Repeat([]byte{7}, 64)
	valid := solana.SignatureFromBytes(raw)

	tests := []struct {
		name  string
		input string
		want  solana.Signature
	}{
		{
			name:  "empty means unspecified",
			input: "",
			want:  solana.Signature{},
		},
		{
			name:  "non-base58 means unspecified",
			input: "not-a-signature!!",
			want:  solana.Signature{},
		},
		{
			name:  "base58 of wrong length means unspecified",
			input: "abc",
			want:  solana.Signature{},
		},
		{
			name:  "valid signature passes through",
			input: valid.String(),
			want:  valid,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := parseSignature(tt.input)
			if got != tt.want {
				t.Errorf("parseSignature(%q) = %s, want %s", tt.input, got, tt.want)
			}
		})
	}
}

func TestParseSignatureZeroIsOmittedBound(t *testing.T) {
	// The RPC opts struct omits zero-valued bounds from the request, so a
	// malformed boundary degrades to "latest"/"genesis" instead of failing
	// the whole history query.
	got := parseSignature("placeholder")
	if !got.IsZero() {
		t.Fatalf("expected zero signature for placeholder input, got %s", got)
	}
}

func TestCommitmentFromString(t *testing.T) {
	tests := []struct {
		input string
		want  rpc.CommitmentType
	}{
		{"processed", rpc.CommitmentProcessed},
		{"finalized", rpc.CommitmentFinalized},
		{"confirmed", rpc.CommitmentConfirmed},
		{"", rpc.CommitmentConfirmed},
		{"bogus", rpc.CommitmentConfirmed},
	}

	for _, tt := range tests {
		if got := commitmentFromString(tt.input); got != tt.want {
			t.Errorf("commitmentFromString(%q) = %s, want %s", tt.input, got, tt.want)
		}
	}
}
