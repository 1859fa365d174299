package workerpool

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestPoolRunsSubmittedTasks(t *testing.T) {
	p := New(4, 16, nil)
	defer p.Close()

	var count int64
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		p.Submit(func() {
			atomic.AddInt64(&count, 1)
			wg.Done()
		})
	}
	wg.Wait()
	if got := atomic.LoadInt64(&count); got != 50 {
		t.Errorf("expected 50 tasks run, got %d", got)
	}
}

func TestPoolRecoversPanickingTask(t *testing.T) {
	p := New(2, 4, nil)
	defer p.Close()

	var wg sync.WaitGroup
	wg.Add(1)
	p.Submit(func() {
		defer wg.Done()
		panic("boom")
	})
	wg.Wait()

	var ran int64
	var wg2 sync.WaitGroup
	wg2.Add(1)
	p.Submit(func() {
		atomic.AddInt64(&ran, 1)
		wg2.Done()
	})
	wg2.Wait()
	if atomic.LoadInt64(&ran) != 1 {
		t.Error("expected pool to keep running tasks after a panic")
	}
}

func TestTrySubmitFullQueueReturnsFalse(t *testing.T) {
	block := make(chan struct{})
	p := New(1, 1, nil)
	defer func() {
		close(block)
		p.Close()
	}()

	started := make(chan struct{})
	p.Submit(func() {
		close(started)
		<-block
	})
	<-started
	// one more fills the only queue slot (1 task running consumes none of
	// capacity since it's already dequeued into the worker).
	if ok := p.TrySubmit(func() {}); !ok {
		t.Fatal("expected first TrySubmit to succeed with an empty queue")
	}
	if ok := p.TrySubmit(func() {}); ok {
		t.Error("expected TrySubmit to fail once the queue is at capacity")
	}
}

func TestCloseDrainsQueueAndStopsWorkers(t *testing.T) {
	p := New(2, 8, nil)
	var count int64
	for i := 0; i < 8; i++ {
		p.Submit(func() { atomic.AddInt64(&count, 1) })
	}
	p.Close()
	if atomic.LoadInt64(&count) != 8 {
		t.Errorf("expected all queued tasks to drain before Close returns, got %d", count)
	}
	if ok := p.Submit(func() {}); ok {
		t.Error("expected Submit after Close to return false")
	}
}

func TestSubmitBlocksUntilCapacityFrees(t *testing.T) {
	p := New(1, 1, nil)
	defer p.Close()

	release := make(chan struct{})
	started := make(chan struct{})
	p.Submit(func() {
		close(started)
		<-release
	})
	<-started

	// The single worker is now busy, so this next task sits in the
	// queue and brings it to capacity.
	p.Submit(func() {})

	done := make(chan struct{})
	go func() {
		p.Submit(func() {})
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("expected third Submit to block while queue is at capacity")
	case <-time.After(20 * time.Millisecond):
	}
	close(release)
	<-done
}
