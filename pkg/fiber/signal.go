// Package fiber implements nanovm's resumable execution context:
// spec.md §4.2's value stack, inline-at-the-Go-level frame headers, and
// continue/signal/status state machine.
package fiber

// Signal is the non-local return code produced when a fiber suspends or
// completes (spec.md §4.2/GLOSSARY).
type Signal uint8

const (
	SigOK Signal = iota
	SigError
	SigDebug
	SigYield
	SigUser0
	SigUser1
	SigUser2
	SigUser3
	SigUser4
	// SigEvent is internal to the event loop: a fiber that suspended on
	// a stream or channel signals EVENT, never seen outside pkg/vm.
	SigEvent
	// SigInterrupt asks the driving loop to hand the fiber back to the
	// caller instead of making a scheduling decision for it (spec.md
	// §4.3 step 2, "INTERRUPT").
	SigInterrupt
)

func (s Signal) String() string {
	switch s {
	case SigOK:
		return "ok"
	case SigError:
		return "error"
	case SigDebug:
		return "debug"
	case SigYield:
		return "yield"
	case SigUser0, SigUser1, SigUser2, SigUser3, SigUser4:
		return "user" + string(rune('0'+int(s-SigUser0)))
	case SigEvent:
		return "event"
	case SigInterrupt:
		return "interrupt"
	default:
		return "unknown"
	}
}

// IsUser reports whether s is one of USER0..USER4.
func (s Signal) IsUser() bool { return s >= SigUser0 && s <= SigUser4 }

// Status is a fiber's lifecycle state, per spec.md §3.
type Status uint8

const (
	StatusDead Status = iota
	StatusPending
	StatusNew
	StatusAlive
	StatusDebug
	StatusError
	StatusUser0
	StatusUser1
	StatusUser2
	StatusUser3
	StatusUser4
)

func (s Status) String() string {
	switch s {
	case StatusDead:
		return "dead"
	case StatusPending:
		return "pending"
	case StatusNew:
		return "new"
	case StatusAlive:
		return "alive"
	case StatusDebug:
		return "debug"
	case StatusError:
		return "error"
	case StatusUser0, StatusUser1, StatusUser2, StatusUser3, StatusUser4:
		return "user" + string(rune('0'+int(s-StatusUser0)))
	default:
		return "unknown"
	}
}

// Marshalable reports whether a fiber in this status may be
// serialized (spec.md §3: "Only PENDING / DEBUG / USER-N fibers are
// marshalable; ALIVE and C-frame-containing fibers are not").
func (s Status) Marshalable() bool {
	switch s {
	case StatusPending, StatusDebug, StatusUser0, StatusUser1, StatusUser2, StatusUser3, StatusUser4:
		return true
	default:
		return false
	}
}

// Resumable reports whether Continue may be called on a fiber in this
// status (spec.md §4.2: "Status must be one of NEW/PENDING/USER-N/DEBUG.
// Cannot resume ALIVE or DEAD").
func (s Status) Resumable() bool {
	switch s {
	case StatusNew, StatusPending, StatusDebug, StatusUser0, StatusUser1, StatusUser2, StatusUser3, StatusUser4:
		return true
	default:
		return false
	}
}

// Flag bits on a Fiber, distinct from Status: the scheduling/pass-
// through bitfield spec.md §3 describes alongside status.
type Flag uint32

const (
	// FlagScheduled guards against double-enqueue onto the scheduler's
	// task ring buffer (spec.md §3 invariant).
	FlagScheduled Flag = 1 << iota
	flagPassThroughBase
)

// PassThroughFlag returns sig's pass-through bit in Fiber.Flags. No
// code in this module reads the bit: pkg/vm's dispatchSignal notifies
// the supervisor the same way whether or not it is set.
func PassThroughFlag(sig Signal) Flag {
	return flagPassThroughBase << uint(sig)
}
