// Package solana wraps the node RPC surface the pipeline consumes: the
// historical signature query and the transaction-by-signature query.
package solana

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
)

// SignatureInfo is one entry of the node's signature history, newest-first.
type SignatureInfo struct {
	Signature string
	Slot      uint64
	Failed    bool
}

// TransactionInfo is the notification-shaped view of a fetched
// transaction, used during backfill replay.
type TransactionInfo struct {
	Signature string
	Slot      uint64
	Failed    bool
	Logs      []string
}

// Client is a thin wrapper over the node RPC client.
type Client struct {
	rpc        *rpc.Client
	commitment rpc.CommitmentType
	logger     *slog.Logger
}

// NewClient creates a client for the given HTTP RPC endpoint.
func NewClient(endpoint, commitment string, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		rpc:        rpc.New(endpoint),
		commitment: commitmentFromString(commitment),
		logger:     logger.With("component", "solana-client"),
	}
}

func commitmentFromString(s string) rpc.CommitmentType {
	switch s {
	case "processed":
		return rpc.CommitmentProcessed
	case "finalized":
		return rpc.CommitmentFinalized
	default:
		return rpc.CommitmentConfirmed
	}
}

// parseSignature returns the zero signature for empty or malformed input;
// callers treat the zero value as an unspecified boundary.
func parseSignature(s string) solana.Signature {
	if s == "" {
		return solana.Signature{}
	}
	sig, err := solana.SignatureFromBase58(s)
	if err != nil {
		return solana.Signature{}
	}
	return sig
}

// Signatures fetches the program's signature history between before
// (exclusive, newer) and until (inclusive, older), newest-first, capped at
// limit. Empty or malformed boundaries are omitted, meaning "latest" and
// "genesis" respectively.
func (c *Client) Signatures(ctx context.Context, programID, before, until string, limit int) ([]SignatureInfo, error) {
	program, err := solana.PublicKeyFromBase58(programID)
	if err != nil {
		return nil, fmt.Errorf("parse program id %q: %w", programID, err)
	}

	opts := &rpc.GetSignaturesForAddressOpts{
		Commitment: c.commitment,
		Before:     parseSignature(before),
		Until:      parseSignature(until),
	}
	if limit > 0 {
		opts.Limit = &limit
	}

	sigs, err := c.rpc.GetSignaturesForAddressWithOpts(ctx, program, opts)
	if err != nil {
		return nil, fmt.Errorf("get signatures for %s: %w", programID, err)
	}

	out := make([]SignatureInfo, 0, len(sigs))
	for _, s := range sigs {
		out = append(out, SignatureInfo{
			Signature: s.Signature.String(),
			Slot:      s.Slot,
			Failed:    s.Err != nil,
		})
	}
	return out, nil
}

// Transaction fetches one transaction's logs and failure status.
func (c *Client) Transaction(ctx context.Context, signature string) (*TransactionInfo, error) {
	sig, err := solana.SignatureFromBase58(signature)
	if err != nil {
		return nil, fmt.Errorf("parse signature %q: %w", signature, err)
	}

	maxVersion := uint64(0)
	res, err := c.rpc.GetTransaction(ctx, sig, &rpc.GetTransactionOpts{
		Encoding:                       solana.EncodingBase64,
		Commitment:                     c.commitment,
		MaxSupportedTransactionVersion: &maxVersion,
	})
	if err != nil {
		return nil, fmt.Errorf("get transaction %s: %w", signature, err)
	}

	info := &TransactionInfo{
		Signature: signature,
		Slot:      res.Slot,
	}
	if res.Meta != nil {
		info.Failed = res.Meta.Err != nil
		info.Logs = res.Meta.LogMessages
	}
	return info, nil
}
