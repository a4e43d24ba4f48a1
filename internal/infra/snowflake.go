package infra

import (
	"fmt"
	"sync"
	"time"
)

const (
	epoch          = int64(1704067200000)
	workerIDBits   = uint(10)
	sequenceBits   = uint(12)
	maxWorkerID    = int64(-1) ^ (int64(-1) << workerIDBits)
	workerIDShift  = sequenceBits
	timestampShift = sequenceBits + workerIDBits
	sequenceMask   = int64(-1) ^ (int64(-1) << sequenceBits)
)

// IDGenerator hands out message ids. Ids from one generator are strictly
// increasing, and the embedded millisecond is the message creation time. More
// than 4096 ids in one millisecond run the embedded time slightly ahead of the
// clock.
type IDGenerator interface {
	Next() int64
}

type SnowflakeGenerator struct {
	mu        sync.Mutex
	workerID  int64
	sequence  int64
	timestamp int64
	now       func() time.Time
}

func NewSnowflakeGenerator(workerID int64) (*SnowflakeGenerator, error) {
	if workerID < 0 || workerID > maxWorkerID {
		return nil, fmt.Errorf("worker id %d out of range [0, %d]", workerID, maxWorkerID)
	}
	return &SnowflakeGenerator{
		workerID: workerID,
		now:      time.Now,
	}, nil
}

func (s *SnowflakeGenerator) Next() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UnixMilli()

	// A clock that stepped backwards keeps issuing from the last seen
	// millisecond so ids never repeat.
	if now < s.timestamp {
		now = s.timestamp
	}

	if now == s.timestamp {
		s.sequence = (s.sequence + 1) & sequenceMask
		// Sequence exhausted: borrow the next millisecond instead of
		// waiting for the clock.
		if s.sequence == 0 {
			now = s.timestamp + 1
		}
	} else {
		s.sequence = 0
	}

	s.timestamp = now

	return ((now - epoch) << timestampShift) |
		(s.workerID << workerIDShift) |
		s.sequence
}

// SnowflakeTime returns the creation time embedded in id.
func SnowflakeTime(id int64) time.Time {
	return time.UnixMilli((id >> timestampShift) + epoch).UTC()
}
