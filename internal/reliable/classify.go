package reliable

import (
	"context"
	"errors"
	"strings"

	"github.com/dexgate/dexgate/internal/pkg/apperrors"
)

type Class int

const (
	Transient Class = iota
	Permanent
)

func (c Class) String() string {
	if c == Permanent {
		return "permanent"
	}
	return "transient"
}

// Known permanent failure substrings, lowercased. These indicate the
// transaction or request itself is wrong; resubmitting the same thing can
// only fail again.
var permanentMarkers = []string{
	"insufficient funds",
	"insufficient lamports",
	"insufficient balance",
	"invalid instruction",
	"instructionerror",
	"custom program error",
	"invalid account",
	"account not found",
	"invalid base58",
	"invalid address",
	"signature verification failure",
	"slippage tolerance exceeded",
	"unauthorized",
	"token not tradable",
	"market closed",
}

// Known transient failure substrings, lowercased. A fresh attempt against
// the same or another provider can reasonably succeed.
var transientMarkers = []string{
	"blockhash not found",
	"blockhash expired",
	"block height exceeded",
	"stale",
	"timeout",
	"timed out",
	"deadline exceeded",
	"rate limit",
	"too many requests",
	"429",
	"node is behind",
	"connection reset",
	"connection refused",
	"temporarily unavailable",
	"service unavailable",
	"502",
	"503",
	"eof",
	"no recent priority fee",
}

// Classify maps an upstream error to the retry taxonomy. It is a pure
// function over the error's type and message and is exhaustively tested per
// known error string.
func Classify(err error) Class {
	if err == nil {
		return Transient
	}

	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		switch appErr.Type {
		case apperrors.ErrPermanent, apperrors.ErrRiskReject, apperrors.ErrInvalidRequest:
			return Permanent
		case apperrors.ErrTransient, apperrors.ErrCircuit:
			return Transient
		}
	}

	if errors.Is(err, context.Canceled) {
		return Permanent
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return Transient
	}

	msg := strings.ToLower(err.Error())
	for _, marker := range permanentMarkers {
		if strings.Contains(msg, marker) {
			return Permanent
		}
	}
	for _, marker := range transientMarkers {
		if strings.Contains(msg, marker) {
			return Transient
		}
	}

	// Unknown upstream errors default to transient: the retry budget caps
	// the damage, and the next attempt re-selects a provider.
	return Transient
}
