package auction

import (
	"fmt"
	"math"
	"time"

	"github.com/cloudx-io/cipherbid/core"
)

// auctionState holds the round's time window. Ended is always derived from the
// clock; nothing stores it.
type auctionState struct {
	startTime time.Time
	endTime   time.Time
	duration  time.Duration
}

func (s *auctionState) start(now time.Time, duration time.Duration) {
	s.startTime = now
	s.endTime = now.Add(duration)
	s.duration = duration
}

func (s *auctionState) isEnded(now time.Time) bool {
	return !now.Before(s.endTime)
}

// timeRemaining returns the whole seconds left, rounded up so that it only reaches
// zero once the round has ended.
func (s *auctionState) timeRemaining(now time.Time) uint64 {
	if s.isEnded(now) {
		return 0
	}
	left := s.endTime.Sub(now)
	return uint64((left + time.Second - 1) / time.Second)
}

// durationOf converts n units into a round duration.
func durationOf(n int64, unit time.Duration) (time.Duration, error) {
	if n <= 0 {
		return 0, fmt.Errorf("%w: %d must be positive", core.ErrInvalidDuration, n)
	}
	if n > math.MaxInt64/int64(unit) {
		return 0, fmt.Errorf("%w: %d overflows", core.ErrInvalidDuration, n)
	}
	return time.Duration(n) * unit, nil
}
