package maintenance

import (
	"sync"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/querystudio/querystudio/internal/pkg/billing"
	"github.com/querystudio/querystudio/internal/pkg/database"
	metrics "github.com/querystudio/querystudio/internal/pkg/metrics/counter"
)

const (
	counterFlushInterval = 30 * time.Second
	eventPruneInterval   = 1 * time.Hour
)

// Manager manages the background maintenance tasks: flushing buffered license
// validation counters to the database and pruning webhook dedup rows past the
// provider's redelivery horizon.
type Manager struct {
	counterFlushTicker *time.Ticker
	eventPruneTicker   *time.Ticker
	stopCh             chan struct{}
	wg                 sync.WaitGroup
	mu                 sync.Mutex
	running            bool
}

var (
	globalManager *Manager
	managerOnce   sync.Once
)

// GetManager returns the global maintenance manager (singleton)
func GetManager() *Manager {
	managerOnce.Do(func() {
		globalManager = &Manager{
			stopCh: make(chan struct{}),
		}
	})
	return globalManager
}

// Start starts the background tasks
func (m *Manager) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return
	}

	// Recreate stop channel for each start cycle so manager can be restarted safely.
	m.stopCh = make(chan struct{})
	m.running = true
	log.Info("[Maintenance Manager] Starting background tasks")

	m.counterFlushTicker = time.NewTicker(counterFlushInterval)
	m.wg.Add(1)
	go m.counterFlushWorker(m.stopCh, m.counterFlushTicker)

	m.eventPruneTicker = time.NewTicker(eventPruneInterval)
	m.wg.Add(1)
	go m.eventPruneWorker(m.stopCh, m.eventPruneTicker)

	log.Info("[Maintenance Manager] Started successfully")
}

// Stop stops the background tasks
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return
	}

	log.Info("[Maintenance Manager] Stopping background tasks...")

	if m.counterFlushTicker != nil {
		m.counterFlushTicker.Stop()
	}
	if m.eventPruneTicker != nil {
		m.eventPruneTicker.Stop()
	}

	// Signal workers to stop. The channel stays non-nil so a worker that is
	// mid-tick still sees the close when it re-enters its select; Start
	// allocates a fresh one for the next cycle.
	close(m.stopCh)
	m.running = false

	// Wait for background workers to finish
	m.wg.Wait()

	log.Info("[Maintenance Manager] Stopped successfully")
}

// counterFlushWorker periodically flushes buffered counters from Redis to DB.
// stopCh and ticker are handed in at start so a restart cycle replacing the
// manager's fields cannot race with a worker from the previous cycle.
func (m *Manager) counterFlushWorker(stopCh <-chan struct{}, ticker *time.Ticker) {
	defer m.wg.Done()
	for {
		select {
		case <-stopCh:
			log.Info("[Maintenance Manager] Counter flush worker stopping")
			return
		case <-ticker.C:
			if err := metrics.FlushAll(); err != nil {
				log.Errorf("[Maintenance Manager] Counter flush error: %v", err)
			}
		}
	}
}

// eventPruneWorker periodically drops webhook dedup rows older than the
// retention horizon.
func (m *Manager) eventPruneWorker(stopCh <-chan struct{}, ticker *time.Ticker) {
	defer m.wg.Done()
	reconciler := billing.NewReconcilerFromDB(database.GetDB(), nil)
	for {
		select {
		case <-stopCh:
			log.Info("[Maintenance Manager] Event prune worker stopping")
			return
		case <-ticker.C:
			pruned, err := reconciler.PruneExpiredEvents()
			if err != nil {
				log.Errorf("[Maintenance Manager] Event prune error: %v", err)
				continue
			}
			if pruned > 0 {
				log.Infof("[Maintenance Manager] Pruned %d expired webhook events", pruned)
			}
		}
	}
}

// IsRunning returns whether the manager is currently running
func (m *Manager) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// RunEventPruneOnce exposes a manual trigger for a single prune pass (admin use).
func (m *Manager) RunEventPruneOnce() (int64, error) {
	return billing.NewReconcilerFromDB(database.GetDB(), nil).PruneExpiredEvents()
}
