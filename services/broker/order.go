// Package broker simulates order execution against bar OHLC data:
// order lifecycle, fill laws per order kind, slippage, impact cost, and
// commission tiers.
package broker

import (
	"fmt"
	"time"
)

// Side is the order direction. Buy/Sell act on long positions, Short/Cover
// on short positions; the sign of the position delta follows from the side.
type Side int

const (
	Buy Side = iota
	Sell
	Short
	Cover
)

func (s Side) String() string {
	switch s {
	case Buy:
		return "buy"
	case Sell:
		return "sell"
	case Short:
		return "short"
	case Cover:
		return "cover"
	default:
		return fmt.Sprintf("side(%d)", int(s))
	}
}

// IsOpening reports whether the side increases position magnitude.
func (s Side) IsOpening() bool { return s == Buy || s == Short }

// QtySign is the sign applied to the requested quantity when mutating the
// ledger: +1 for buy/cover, -1 for sell/short.
func (s Side) QtySign() float64 {
	if s == Buy || s == Cover {
		return 1
	}
	return -1
}

// Kind is the order type.
type Kind int

const (
	Market Kind = iota
	Limit
	Stop
)

func (k Kind) String() string {
	switch k {
	case Market:
		return "market"
	case Limit:
		return "limit"
	case Stop:
		return "stop"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Status is the order lifecycle state. Created orders become Submitted on
// acceptance; Filled, Rejected, and Canceled are terminal.
type Status int

const (
	Created Status = iota
	Submitted
	Filled
	Rejected
	Canceled
)

func (st Status) String() string {
	switch st {
	case Created:
		return "created"
	case Submitted:
		return "submitted"
	case Filled:
		return "filled"
	case Rejected:
		return "rejected"
	case Canceled:
		return "canceled"
	default:
		return fmt.Sprintf("status(%d)", int(st))
	}
}

// Order is a working order owned by the simulator from submission until a
// terminal state.
type Order struct {
	ID         string
	Symbol     string
	Side       Side
	Kind       Kind
	Quantity   float64
	Price      float64 // limit or stop reference price; unused for market
	SignalTime time.Time
	PolicyID   string
	ExitReason string
	Status     Status
}

// Trade is one fill. Append-only; never mutated after creation.
type Trade struct {
	SignalTime time.Time
	FillTime   time.Time
	Symbol     string
	Side       Side
	Quantity   float64
	FillPrice  float64
	Commission float64
	Slippage   float64 // signed cost amount in quote units, always >= 0
	Maker      bool
	PolicyID   string
	ExitReason string
}
