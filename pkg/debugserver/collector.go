package debugserver

import (
	"time"

	"github.com/nanovm/nanovm/pkg/heap"
	"github.com/nanovm/nanovm/pkg/vm"
)

// FromLoop builds a Collector reading directly off a running loop and
// its heap. Channel depths aren't included here -- channels have no
// global registry to enumerate, so a caller wanting them in the
// snapshot wraps this collector and fills ChannelDepths itself.
func FromLoop(h *heap.Heap, l *vm.Loop) Collector {
	return func() Snapshot {
		stats := l.Stats()
		return Snapshot{
			Time:          time.Now(),
			LiveObjects:   h.LiveCount(),
			Collections:   h.Collections(),
			ReadyCount:    stats.ReadyCount,
			TimeoutCount:  stats.TimeoutCount,
			ListenerCount: stats.ListenerCount,
			StatusCounts:  stats.StatusCounts,
		}
	}
}

// WithChannelDepths wraps a Collector, adding named channel depths to
// every snapshot it produces. depths is called fresh each tick so
// callers can add/remove channels over the VM's lifetime.
func WithChannelDepths(base Collector, depths func() map[string]int) Collector {
	return func() Snapshot {
		snap := base()
		snap.ChannelDepths = depths()
		return snap
	}
}
