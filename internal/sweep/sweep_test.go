package sweep

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/occuplex/occuplex/internal/clock"
)

type fakeAdmitter struct {
	calls int32
}

func (f *fakeAdmitter) SweepExpired(time.Time) ([]string, error) {
	atomic.AddInt32(&f.calls, 1)
	return nil, nil
}

func TestSweeperTicksUntilCancelled(t *testing.T) {
	fa := &fakeAdmitter{}
	clk := clock.NewFake(time.Now())
	s := New(fa, clk, 10*time.Millisecond, zap.NewNop())

	ctx, cancel := context.WithTimeout(context.Background(), 55*time.Millisecond)
	defer cancel()

	_ = s.Run(ctx)

	if atomic.LoadInt32(&fa.calls) < 2 {
		t.Fatalf("expected at least 2 sweep calls, got %d", fa.calls)
	}
}
