package webhook

import (
	"sync"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/payward/payward/app/repository"
)

const (
	// DefaultMaxAttempts caps re-deliveries per event payload.
	DefaultMaxAttempts = 5
	defaultSweepEvery  = 30 * time.Second
	dueEventBatchSize  = 50
)

// Worker re-delivers failed webhook events whose next_attempt_at came due
// and purges expired idempotency records. It runs independently of request
// handling; delivery rows stay immutable and every retry produces a new
// attempt row.
type Worker struct {
	repo        repository.WebhookRepository
	idemRepo    repository.IdempotencyRepository
	dispatcher  *Dispatcher
	interval    time.Duration
	maxAttempts int

	stopCh  chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool
}

// NewWorker creates a retry worker from injected dependencies.
func NewWorker(repo repository.WebhookRepository, idemRepo repository.IdempotencyRepository, dispatcher *Dispatcher) *Worker {
	return &Worker{
		repo:        repo,
		idemRepo:    idemRepo,
		dispatcher:  dispatcher,
		interval:    defaultSweepEvery,
		maxAttempts: DefaultMaxAttempts,
		stopCh:      make(chan struct{}),
	}
}

// NewWorkerFromDB creates a retry worker from a GORM DB handle.
func NewWorkerFromDB(db *gorm.DB) *Worker {
	return NewWorker(
		repository.NewWebhookRepository(db),
		repository.NewIdempotencyRepository(db),
		NewDispatcherFromDB(db),
	)
}

// Start launches the sweep loop.
func (w *Worker) Start() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running {
		return
	}
	w.running = true
	// A previous Stop closed stopCh; a restarted loop needs a fresh one.
	w.stopCh = make(chan struct{})
	log.Infof("[WebhookWorker] starting (interval=%s, maxAttempts=%d)", w.interval, w.maxAttempts)

	w.wg.Add(1)
	go w.loop()
}

// Stop halts the sweep loop and waits for the current sweep to finish.
func (w *Worker) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.running {
		return
	}
	log.Info("[WebhookWorker] stopping...")
	close(w.stopCh)
	w.running = false
	w.wg.Wait()
	log.Info("[WebhookWorker] stopped")
}

func (w *Worker) loop() {
	defer w.wg.Done()
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-w.stopCh:
			return
		case <-ticker.C:
			w.Sweep(time.Now())
		}
	}
}

// Sweep runs one pass: re-deliver due failed events and drop expired
// idempotency records.
func (w *Worker) Sweep(now time.Time) {
	w.retryDueEvents(now)
	w.purgeExpiredIdempotency(now)
}

func (w *Worker) retryDueEvents(now time.Time) {
	events, err := w.repo.ListDueEvents(now, w.maxAttempts, dueEventBatchSize)
	if err != nil {
		log.Errorf("[WebhookWorker] failed to list due events: %v", err)
		return
	}

	for i := range events {
		event := &events[i]
		if done, err := w.repo.HasNewerAttempt(event); err != nil {
			log.Errorf("[WebhookWorker] attempt lookup failed for event %d: %v", event.ID, err)
			continue
		} else if done {
			continue
		}

		config, err := w.repo.GetConfigByIDAny(event.WebhookConfigID)
		if err != nil {
			log.Warnf("[WebhookWorker] config %d for event %d is gone, skipping", event.WebhookConfigID, event.ID)
			continue
		}
		if !config.IsActive {
			continue
		}

		attempt := event.AttemptCount + 1
		log.Infof("[WebhookWorker] re-delivering event %d to config %d (attempt %d/%d)",
			event.ID, config.ID, attempt, w.maxAttempts)
		w.dispatcher.DeliverAttempt(config, event.EventType, []byte(event.PayloadJSON), attempt)
	}
}

func (w *Worker) purgeExpiredIdempotency(now time.Time) {
	n, err := w.idemRepo.DeleteExpired(now)
	if err != nil {
		log.Errorf("[WebhookWorker] failed to purge idempotency records: %v", err)
		return
	}
	if n > 0 {
		log.Infof("[WebhookWorker] purged %d expired idempotency records", n)
	}
}
