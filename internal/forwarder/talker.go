package forwarder

import (
	"time"

	"github.com/Duocast/TSOD/internal/ids"
)

// talkerSet tracks which senders in a channel have been active within the
// configured window, to cap concurrent talkers. Go's map iteration already
// lets us prune in place, so this drops original_source's separate
// insertion-order VecDeque without changing the behavior it implements.
type talkerSet struct {
	window   time.Duration
	lastSeen map[ids.UserID]time.Time
}

func newTalkerSet(window time.Duration) *talkerSet {
	return &talkerSet{window: window, lastSeen: make(map[ids.UserID]time.Time)}
}

func (t *talkerSet) prune(now time.Time) {
	for uid, seen := range t.lastSeen {
		if now.Sub(seen) > t.window {
			delete(t.lastSeen, uid)
		}
	}
}

func (t *talkerSet) isActive(now time.Time, uid ids.UserID) bool {
	seen, ok := t.lastSeen[uid]
	return ok && now.Sub(seen) <= t.window
}

func (t *talkerSet) activeCount() int {
	return len(t.lastSeen)
}

func (t *talkerSet) touch(now time.Time, uid ids.UserID) {
	t.lastSeen[uid] = now
}

// allowTalker admits sender as an active talker in channel if already
// active, or if the channel is under its max-talkers cap.
func (f *Forwarder) allowTalker(channel ids.ChannelID, sender ids.UserID) bool {
	max := f.membership.MaxTalkers(channel)
	if max < 1 {
		max = 1
	}

	f.talkersMu.Lock()
	defer f.talkersMu.Unlock()

	set, ok := f.talkers[channel]
	if !ok {
		set = newTalkerSet(f.cfg.TalkerActivityWindow)
		f.talkers[channel] = set
	}

	now := time.Now()
	set.prune(now)

	if set.isActive(now, sender) {
		set.touch(now, sender)
		return true
	}
	if set.activeCount() >= max {
		return false
	}
	set.touch(now, sender)
	return true
}
