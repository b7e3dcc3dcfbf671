package models

import "time"

// SignalKind selects how strict the relative-strength check is.
type SignalKind int

const (
	TrendFollowing SignalKind = iota
	Reversal
)

func (k SignalKind) String() string {
	if k == Reversal {
		return "reversal"
	}
	return "trend_following"
}

// Signal is a validated trade instruction. It is consumed once by the
// position manager or discarded.
type Signal struct {
	Side       OptionSide `json:"side"`
	Reason     string     `json:"reason"`
	Strategy   string     `json:"strategy"`
	Kind       SignalKind `json:"kind"`
	Instrument OptionRef  `json:"instrument"`
	At         time.Time  `json:"at"`
}
