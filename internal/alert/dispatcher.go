package alert

import (
	"context"
	"sync"
	"time"

	"github.com/linnemanlabs/go-core/log"
)

// Notification is one outbound push toward the messaging bot: the expanded
// alert plus the recipient set for a single role.
type Notification struct {
	View        *View
	ForSecurity bool
	TelegramIDs []int64
}

// Notifier delivers a notification to the bot endpoint. Implementations are
// best-effort; the dispatcher logs failures and never retries.
type Notifier interface {
	Send(ctx context.Context, n *Notification) error
}

// deliverTimeout bounds a single delivery attempt, including store reads.
// The notifier's own HTTP timeout is shorter.
const deliverTimeout = 15 * time.Second

type dispatchJob struct {
	alertID int64
	role    Role
}

// Dispatcher decouples alert processing from bot-endpoint latency: Enqueue
// never blocks, and a single worker drains the queue. Delivery outcome never
// affects the request that enqueued it.
type Dispatcher struct {
	store    Store
	notifier Notifier
	logger   log.Logger
	metrics  *Metrics

	queue chan dispatchJob
	done  chan struct{}

	mu      sync.Mutex
	stopped bool
}

// NewDispatcher creates a dispatcher with a bounded queue. A nil notifier
// turns delivery into a logged no-op.
func NewDispatcher(store Store, notifier Notifier, logger log.Logger, metrics *Metrics, queueSize int) *Dispatcher {
	if logger == nil {
		logger = log.Nop()
	}
	if queueSize <= 0 {
		queueSize = 256
	}
	return &Dispatcher{
		store:    store,
		notifier: notifier,
		logger:   logger.With("component", "dispatcher"),
		metrics:  metrics,
		queue:    make(chan dispatchJob, queueSize),
		done:     make(chan struct{}),
	}
}

// Start launches the delivery worker.
func (d *Dispatcher) Start() {
	go d.run()
}

// Stop closes the queue and waits for in-flight deliveries until ctx expires.
func (d *Dispatcher) Stop(ctx context.Context) error {
	d.mu.Lock()
	if !d.stopped {
		d.stopped = true
		close(d.queue)
	}
	d.mu.Unlock()

	select {
	case <-d.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Enqueue queues a notification for the given role. It never blocks: when
// the queue is full or the dispatcher is stopped the job is dropped and
// counted, matching the fire-and-forget delivery contract.
func (d *Dispatcher) Enqueue(alertID int64, role Role) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return false
	}
	select {
	case d.queue <- dispatchJob{alertID: alertID, role: role}:
		return true
	default:
		d.metrics.DispatchDropped.Inc()
		d.logger.Warn(context.Background(), "dispatch queue full, dropping notification",
			"alert_id", alertID, "role", string(role))
		return false
	}
}

func (d *Dispatcher) run() {
	defer close(d.done)
	for job := range d.queue {
		d.deliver(job)
	}
}

func (d *Dispatcher) deliver(job dispatchJob) {
	ctx, cancel := context.WithTimeout(context.Background(), deliverTimeout)
	defer cancel()

	L := d.logger.With("alert_id", job.alertID, "role", string(job.role))

	if d.notifier == nil {
		L.Info(ctx, "no notifier configured, skipping dispatch")
		d.metrics.DispatchesTotal.WithLabelValues(string(job.role), "skipped").Inc()
		return
	}

	view, err := d.store.AlertView(ctx, job.alertID)
	if err != nil {
		L.Error(ctx, err, "failed to load alert for dispatch")
		d.metrics.DispatchesTotal.WithLabelValues(string(job.role), "error").Inc()
		return
	}

	users, err := d.store.UsersByRole(ctx, view.Alert.CompanyID, job.role)
	if err != nil {
		L.Error(ctx, err, "failed to load recipients for dispatch")
		d.metrics.DispatchesTotal.WithLabelValues(string(job.role), "error").Inc()
		return
	}

	telegramIDs := make([]int64, 0, len(users))
	for i := range users {
		if users[i].Addressable() {
			telegramIDs = append(telegramIDs, *users[i].TelegramID)
		}
	}

	n := &Notification{
		View:        view,
		ForSecurity: job.role == RoleSecurity,
		TelegramIDs: telegramIDs,
	}

	start := time.Now()
	err = d.notifier.Send(ctx, n)
	d.metrics.DispatchDuration.WithLabelValues(string(job.role)).Observe(time.Since(start).Seconds())

	if err != nil {
		// Delivery is best-effort: log and count, never retry or surface.
		L.Error(ctx, err, "bot notification failed", "recipients", len(telegramIDs))
		d.metrics.DispatchesTotal.WithLabelValues(string(job.role), "error").Inc()
		return
	}

	L.Info(ctx, "bot notification sent", "recipients", len(telegramIDs))
	d.metrics.DispatchesTotal.WithLabelValues(string(job.role), "ok").Inc()
}
