package arena

import (
	"github.com/eapache/queue"
	"go.uber.org/zap"
)

type queueEntry struct {
	conn Conn
	tc   TimeControl
}

// PairFunc receives two distinct connections matched for a time control,
// oldest first.
type PairFunc func(white, black Conn, tc TimeControl)

// MatchQueue keeps one FIFO per allowed time control. A connection waits in
// at most one FIFO at a time.
type MatchQueue struct {
	order  []TimeControl
	queues map[TimeControl]*queue.Queue
	pair   PairFunc
	log    *zap.Logger
}

func NewMatchQueue(allowed []TimeControl, pair PairFunc, log *zap.Logger) *MatchQueue {
	if log == nil {
		log = zap.NewNop()
	}
	q := &MatchQueue{queues: make(map[TimeControl]*queue.Queue, len(allowed)), pair: pair, log: log}
	for _, tc := range allowed {
		if _, dup := q.queues[tc]; dup {
			continue
		}
		q.order = append(q.order, tc)
		q.queues[tc] = queue.New()
	}
	return q
}

// Allowed reports whether tc is one of the configured pools.
func (q *MatchQueue) Allowed(tc TimeControl) bool {
	_, ok := q.queues[tc]
	return ok
}

// Enqueue moves conn into the tc pool and pairs the two oldest entries when
// possible. It returns false when tc is not an allowed pool.
func (q *MatchQueue) Enqueue(conn Conn, tc TimeControl) bool {
	fifo, ok := q.queues[tc]
	if !ok {
		return false
	}
	q.RemoveConnection(conn)
	fifo.Add(queueEntry{conn: conn, tc: tc})
	q.log.Debug("arena_queue_join",
		zap.String("conn_id", conn.ID()),
		zap.Int("time_control", int(tc)),
		zap.Int("waiting", fifo.Length()),
	)

	for fifo.Length() >= 2 {
		first := fifo.Get(0).(queueEntry)
		second := fifo.Get(1).(queueEntry)
		if first.conn == second.conn {
			fifo.Remove()
			q.log.Info("arena_queue_duplicate", zap.String("conn_id", first.conn.ID()), zap.Int("time_control", int(tc)))
			continue
		}
		fifo.Remove()
		fifo.Remove()
		if q.pair != nil {
			q.pair(first.conn, second.conn, tc)
		}
	}
	return true
}

// RemoveConnection drops every entry for conn from every pool.
func (q *MatchQueue) RemoveConnection(conn Conn) {
	for _, tc := range q.order {
		fifo := q.queues[tc]
		n := fifo.Length()
		for i := 0; i < n; i++ {
			e := fifo.Remove().(queueEntry)
			if e.conn != conn {
				fifo.Add(e)
			}
		}
	}
}

// Len returns the number of waiting entries for tc.
func (q *MatchQueue) Len(tc TimeControl) int {
	if fifo, ok := q.queues[tc]; ok {
		return fifo.Length()
	}
	return 0
}

// Contains reports whether conn waits in any pool.
func (q *MatchQueue) Contains(conn Conn) bool {
	for _, tc := range q.order {
		fifo := q.queues[tc]
		for i := 0; i < fifo.Length(); i++ {
			if fifo.Get(i).(queueEntry).conn == conn {
				return true
			}
		}
	}
	return false
}

// Waiting snapshots pool sizes keyed by time control.
func (q *MatchQueue) Waiting() map[TimeControl]int {
	out := make(map[TimeControl]int, len(q.order))
	for _, tc := range q.order {
		out[tc] = q.queues[tc].Length()
	}
	return out
}

// TimeControls lists the allowed pools in configuration order.
func (q *MatchQueue) TimeControls() []TimeControl {
	return append([]TimeControl(nil), q.order...)
}
