package scanning

import (
	"context"
	"fmt"

	"golang.org/x/sync/semaphore"

	"github.com/anstrom/portsweep/internal/metrics"
)

// maxBudget caps the budget when the descriptor limit is unlimited.
const maxBudget = 1 << 20

// SocketBudget bounds the number of scan sockets open across all host sweeps.
type SocketBudget struct {
	sem     *semaphore.Weighted
	size    int
	metrics *metrics.PrometheusMetrics
}

// NewSocketBudget creates a budget of size sockets.
func NewSocketBudget(size int, m *metrics.PrometheusMetrics) *SocketBudget {
	if size < 1 {
		size = 1
	}
	return &SocketBudget{
		sem:     semaphore.NewWeighted(int64(size)),
		size:    size,
		metrics: m,
	}
}

// BudgetSize derives the socket budget from the descriptor limit, leaving a
// reserve for everything else the process opens. A positive configured value
// lowers the result further.
func BudgetSize(configured int) (int, error) {
	limit, err := descriptorLimit()
	if err != nil {
		return 0, fmt.Errorf("failed to read descriptor limit: %w", err)
	}

	size := maxBudget
	if limit < maxBudget {
		size = int(limit)
	}
	size -= descriptorReserve
	if configured > 0 && configured < size {
		size = configured
	}
	if size < 1 {
		return 0, fmt.Errorf("descriptor limit %d leaves no room for scan sockets", limit)
	}
	return size, nil
}

// Size returns the total number of sockets the budget allows.
func (b *SocketBudget) Size() int {
	return b.size
}

// Acquire blocks until n sockets are available or ctx is done.
func (b *SocketBudget) Acquire(ctx context.Context, n int) error {
	if err := b.sem.Acquire(ctx, int64(n)); err != nil {
		return err
	}
	b.metrics.AddOpenSockets(n)
	return nil
}

// TryAcquire takes n sockets if they are available right now.
func (b *SocketBudget) TryAcquire(n int) bool {
	if !b.sem.TryAcquire(int64(n)) {
		return false
	}
	b.metrics.AddOpenSockets(n)
	return true
}

// Release returns n sockets to the budget.
func (b *SocketBudget) Release(n int) {
	if n <= 0 {
		return
	}
	b.sem.Release(int64(n))
	b.metrics.AddOpenSockets(-n)
}
