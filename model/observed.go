package model

import "fmt"

// ObservedState is a single oracle observation about a ledger signature.
type ObservedState int

const (
	// ObservedNotFound means the ledger has no record of the signature even
	// with full history search. This is authoritative and terminal.
	ObservedNotFound ObservedState = iota

	// ObservedUnconfirmed means the signature exists but its confirmation
	// level is below finalized. Non-terminal, keep polling.
	ObservedUnconfirmed

	// ObservedFinalized means the signature reached the finalized
	// commitment level. Terminal.
	ObservedFinalized

	// ObservedTransportError means the oracle could not be reached or
	// answered malformed. Counts as a consumed attempt, never as failure.
	ObservedTransportError
)

var observedStateStrings = map[ObservedState]string{
	ObservedNotFound:       "NotFound",
	ObservedUnconfirmed:    "Unconfirmed",
	ObservedFinalized:      "Finalized",
	ObservedTransportError: "TransportError",
}

func (s ObservedState) String() string {
	if str, ok := observedStateStrings[s]; ok {
		return str
	}
	return fmt.Sprintf("Unknown ObservedState (%d)", int(s))
}

// ChangeSource identifies which path delivered an observed change.
type ChangeSource int

const (
	SourceManualPoll ChangeSource = iota
	SourceFeedChange
	SourceTriggerChange
)

var changeSourceStrings = map[ChangeSource]string{
	SourceManualPoll:    "ManualPoll",
	SourceFeedChange:    "FeedChange",
	SourceTriggerChange: "TriggerChange",
}

func (s ChangeSource) String() string {
	if str, ok := changeSourceStrings[s]; ok {
		return str
	}
	return fmt.Sprintf("Unknown ChangeSource (%d)", int(s))
}

// ObservedChange is the normalized form every external change report takes
// before it reaches the reconciliation engine, regardless of whether it
// arrived as a manual poll, a feed row or a trigger payload.
type ObservedChange struct {
	Source  ChangeSource
	OrderID string
	TxHash  string

	// Status carries a status hint from feed/trigger sources. Manual polls
	// carry no hint and leave it at StatusPending.
	Status TxStatus
}
