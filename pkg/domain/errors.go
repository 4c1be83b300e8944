package domain

import "github.com/plaenen/bankledger/pkg/bankerrors"

// ErrAggregateNotFound is returned by a Repository when no events exist
// for the requested aggregate ID.
var ErrAggregateNotFound = bankerrors.ErrNotFound
