package sdkport

import (
	"context"
	"errors"
	"sync"
)

// FakeEventSource is an in-memory EventSource test double. Tests push
// raw events onto it with Push; Run blocks until ctx is canceled, the
// way the real SDK connection would, then closes the event channel.
type FakeEventSource struct {
	ch   chan RawEvent
	done chan struct{}
	once sync.Once
}

// NewFakeEventSource builds a FakeEventSource with the given channel
// buffer size.
func NewFakeEventSource(buffer int) *FakeEventSource {
	return &FakeEventSource{
		ch:   make(chan RawEvent, buffer),
		done: make(chan struct{}),
	}
}

// Push enqueues a raw event for the router to consume. It is a no-op
// once Run has observed context cancellation, rather than panicking,
// so a test's teardown ordering doesn't need to race Push against
// shutdown.
func (f *FakeEventSource) Push(e RawEvent) {
	select {
	case <-f.done:
		return
	default:
	}
	select {
	case f.ch <- e:
	case <-f.done:
	}
}

// Events implements EventSource.
func (f *FakeEventSource) Events() <-chan RawEvent { return f.ch }

// Run implements EventSource: it blocks until ctx is canceled, then
// closes the event channel exactly once.
func (f *FakeEventSource) Run(ctx context.Context) error {
	<-ctx.Done()
	f.once.Do(func() {
		close(f.done)
		close(f.ch)
	})
	return nil
}

// FakeCommander is an in-memory Commander test double that records
// every call and can be told to fail after a given number of calls.
type FakeCommander struct {
	mu         sync.Mutex
	CallCount  int
	ShouldFail bool
	FailAfter  int

	ClosedContracts []string
	ClosedAllCount  int
	CanceledOrders  []string
	ModifiedOrders  []string
}

func (f *FakeCommander) maybeFail() error {
	f.CallCount++
	if f.ShouldFail && f.CallCount > f.FailAfter {
		return errors.New("fake commander error")
	}
	return nil
}

func (f *FakeCommander) ClosePosition(_ context.Context, contractID string, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.maybeFail(); err != nil {
		return err
	}
	f.ClosedContracts = append(f.ClosedContracts, contractID)
	return nil
}

func (f *FakeCommander) CloseAllPositions(_ context.Context, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.maybeFail(); err != nil {
		return err
	}
	f.ClosedAllCount++
	return nil
}

func (f *FakeCommander) CancelOrder(_ context.Context, orderID string, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.maybeFail(); err != nil {
		return err
	}
	f.CanceledOrders = append(f.CanceledOrders, orderID)
	return nil
}

func (f *FakeCommander) ModifyOrder(_ context.Context, orderID string, _ OrderUpdate, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.maybeFail(); err != nil {
		return err
	}
	f.ModifiedOrders = append(f.ModifiedOrders, orderID)
	return nil
}
