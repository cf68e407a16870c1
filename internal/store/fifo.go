package store

// fifoMutex serializes store mutations. It is a capacity-1 channel semaphore:
// goroutines blocked on the send are queued and admitted in arrival order by
// the runtime, which preserves the strict one-at-a-time, submission-order
// admission the write path requires. sync.Mutex permits barging and would not.
type fifoMutex struct {
	ch chan struct{}
}

func newFIFOMutex() *fifoMutex {
	return &fifoMutex{ch: make(chan struct{}, 1)}
}

func (m *fifoMutex) Lock() {
	m.ch <- struct{}{}
}

func (m *fifoMutex) Unlock() {
	<-m.ch
}
