package service

import (
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/powerstream/coinledger/internal/ledger"
	"github.com/powerstream/coinledger/internal/store"
)

// testClock is a settable time source shared by the service and the ledger
// so block timestamps and day boundaries agree in tests.
type testClock struct {
	t time.Time
}

func (c *testClock) Now() time.Time { return c.t }

func (c *testClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestService(t *testing.T, cfg Config) (*Service, *store.Memory, *testClock) {
	t.Helper()
	clock := &testClock{t: time.Date(2024, 6, 15, 10, 0, 0, 0, time.UTC)}
	st := store.NewMemory()
	logger := zap.NewNop()
	led := ledger.New(st, logger, ledger.WithClock(clock.Now))
	svc := New(st, led, logger, NewSimulatedProcessor(logger), cfg)
	svc.now = clock.Now
	return svc, st, clock
}
