package remote

import "sync"

// output is one tagged line read from a subprocess stream. A nil *output in
// the queue is the sentinel that tells the consumer to stop.
type output struct {
	stream StreamName
	line   []byte
}

// outputQueue is an unbounded FIFO between the two stream readers and the
// consumer. push never blocks, so a slow hook can never stall the read
// side; pop blocks until an item arrives.
type outputQueue struct {
	mu    sync.Mutex
	cond  *sync.Cond
	items []*output
}

func newOutputQueue() *outputQueue {
	q := &outputQueue{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

func (q *outputQueue) push(o *output) {
	q.mu.Lock()
	q.items = append(q.items, o)
	q.mu.Unlock()
	q.cond.Signal()
}

func (q *outputQueue) pop() *output {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.items) == 0 {
		q.cond.Wait()
	}
	o := q.items[0]
	q.items = q.items[1:]
	return o
}
