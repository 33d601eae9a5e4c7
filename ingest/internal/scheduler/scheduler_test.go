package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/hazyhaar/datatrack/dbopen"
	"github.com/hazyhaar/datatrack/lease"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestTick_SingleLeader(t *testing.T) {
	// WHAT: Of two instances sharing a database, only the lease holder runs the batch.
	// WHY: Replicas must not ingest the same connectors twice.
	db := dbopen.OpenMemory(t, dbopen.WithSchemaFunc(lease.ApplySchema))
	ctx := context.Background()

	var runsA, runsB atomic.Int32
	a := New(lease.New(db, lease.Options{Holder: "a"}), func(context.Context) error { runsA.Add(1); return nil }, Config{}, nil)
	b := New(lease.New(db, lease.Options{Holder: "b"}), func(context.Context) error { runsB.Add(1); return nil }, Config{}, nil)

	if !a.Tick(ctx) {
		t.Fatal("a should lead")
	}
	if b.Tick(ctx) {
		t.Fatal("b should not lead while a holds the lease")
	}
	if !a.Tick(ctx) {
		t.Fatal("a should keep leading")
	}
	if runsA.Load() != 2 || runsB.Load() != 0 {
		t.Errorf("runs: a=%d b=%d", runsA.Load(), runsB.Load())
	}
}

func TestTick_TakeoverAfterExpiry(t *testing.T) {
	// WHAT: When the leader stops extending, another instance takes over after the TTL.
	// WHY: A crashed leader must not stop scheduling forever.
	db := dbopen.OpenMemory(t, dbopen.WithSchemaFunc(lease.ApplySchema))
	ctx := context.Background()
	clk := &clock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	noop := func(context.Context) error { return nil }

	a := New(lease.New(db, lease.Options{Holder: "a", Now: clk.Now}), noop, Config{LeaderTTL: time.Minute}, nil)
	b := New(lease.New(db, lease.Options{Holder: "b", Now: clk.Now}), noop, Config{LeaderTTL: time.Minute}, nil)

	a.Tick(ctx)
	clk.Advance(2 * time.Minute)
	if !b.Tick(ctx) {
		t.Fatal("b should take over the expired lease")
	}
	if a.Tick(ctx) {
		t.Error("a should notice it lost leadership")
	}
	if a.Leader() {
		t.Error("a still believes it leads")
	}
}

func TestTick_BatchErrorKeepsLeadership(t *testing.T) {
	// WHAT: A failing batch is logged and the instance stays leader.
	// WHY: One bad round must not cause leadership churn.
	db := dbopen.OpenMemory(t, dbopen.WithSchemaFunc(lease.ApplySchema))
	s := New(lease.New(db, lease.Options{}), func(context.Context) error { return errors.New("boom") }, Config{}, nil)
	if !s.Tick(context.Background()) || !s.Leader() {
		t.Error("expected leadership after failed batch")
	}
}

func TestRun_StopsAndReleases(t *testing.T) {
	// WHAT: Cancelling Run stops the loop, releases the lease and leaks no goroutine.
	// WHY: Graceful shutdown lets another replica lead immediately.
	defer goleak.VerifyNone(t, goleak.IgnoreTopFunction("database/sql.(*DB).connectionOpener"))

	db := dbopen.OpenMemory(t, dbopen.WithSchemaFunc(lease.ApplySchema))
	leases := lease.New(db, lease.Options{Holder: "a"})
	ran := make(chan struct{}, 16)
	s := New(leases, func(context.Context) error { ran <- struct{}{}; return nil }, Config{CheckInterval: 10 * time.Millisecond}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	select {
	case <-ran:
	case <-time.After(2 * time.Second):
		t.Fatal("batch never ran")
	}
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return")
	}

	held, err := leases.Held(context.Background(), LeaderKey)
	if err != nil {
		t.Fatal(err)
	}
	if held {
		t.Error("leader lease still held after shutdown")
	}
}
