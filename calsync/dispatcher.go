package calsync

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/kimipdb306/scout-tdl/domain"
)

// Op names a dispatched calendar operation.
type Op string

const (
	OpAdd    Op = "add"
	OpUpdate Op = "update"
	OpRemove Op = "remove"
)

// UpdatePolicy decides what an update dispatch does when a backend has no
// sync record for the item.
type UpdatePolicy string

const (
	// UpdateFallbackAdd treats an untracked update as an add.
	UpdateFallbackAdd UpdatePolicy = "add"
	// UpdateFallbackSkip leaves untracked items alone.
	UpdateFallbackSkip UpdatePolicy = "skip"
)

// Config holds dispatcher tuning knobs.
type Config struct {
	Enabled        bool
	Workers        int
	Buffer         int
	CallTimeout    time.Duration
	HandoffTimeout time.Duration
	UpdateFallback UpdatePolicy
	// Results, when set, receives the outcome of every backend invocation.
	// Sends never block; a full channel drops the result. Intended for tests
	// and observability, never for caller flow control.
	Results chan<- Result
}

// ConfigFromEnv reads the SYNC_* environment knobs.
func ConfigFromEnv() Config {
	policy := UpdatePolicy(envString("SYNC_UPDATE_FALLBACK", string(UpdateFallbackAdd)))
	if policy != UpdateFallbackAdd && policy != UpdateFallbackSkip {
		policy = UpdateFallbackAdd
	}
	return Config{
		Enabled:        envBool("SYNC_ENABLED", true),
		Workers:        envInt("SYNC_WORKERS", 8),
		Buffer:         envInt("SYNC_BUFFER", 256),
		CallTimeout:    envDur("SYNC_CALL_TIMEOUT", 30*time.Second),
		HandoffTimeout: envDur("SYNC_HANDOFF_TIMEOUT", 15*time.Millisecond),
		UpdateFallback: policy,
	}
}

// Result reports one backend invocation's outcome.
type Result struct {
	DispatchID string
	Backend    string
	ItemID     string
	Op         Op
	ExternalID string
	Skipped    bool
	Err        error
}

type job struct {
	dispatchID string
	op         Op
	backend    Backend
	item       *domain.Item
	itemID     string
	userID     string
}

// Dispatcher fans item mutations out to every configured backend. Dispatch
// calls return once every backend task is scheduled; backend latency and
// failures stay on the worker pool and are only visible through logs and the
// optional Results channel.
//
// Sequential dispatches for the same item are not serialized against each
// other; two rapid edits may reach a backend out of order. A per-item queue
// would close that race.
type Dispatcher struct {
	cfg      Config
	backends []Backend
	records  Records
	logger   *log.Logger

	jobs     chan job
	workerWG sync.WaitGroup
	inflight sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

// New creates a dispatcher and starts its worker pool.
func New(cfg Config, backends []Backend, records Records, logger *log.Logger) *Dispatcher {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.Buffer <= 0 {
		cfg.Buffer = cfg.Workers * 2
	}
	if records == nil {
		records = NewMemoryRecords()
	}

	d := &Dispatcher{
		cfg:      cfg,
		backends: backends,
		records:  records,
		logger:   logger,
		jobs:     make(chan job, cfg.Buffer),
	}
	for i := 0; i < cfg.Workers; i++ {
		d.workerWG.Add(1)
		go d.worker()
	}
	logger.WithFields(log.Fields{
		"backends": len(backends),
		"workers":  cfg.Workers,
		"buffer":   cfg.Buffer,
		"fallback": string(cfg.UpdateFallback),
		"enabled":  cfg.Enabled,
	}).Info("calendar sync dispatcher started")
	return d
}

// DispatchAdd mirrors a newly created item onto every backend. Items without
// a due date are never synced.
func (d *Dispatcher) DispatchAdd(item *domain.Item, userID string) {
	if !d.cfg.Enabled || item == nil || item.DueDate == "" {
		return
	}
	d.fanOut(OpAdd, item, item.ID, userID)
}

// DispatchUpdate propagates an item mutation. Backends with no sync record
// for the item follow the configured fallback policy.
func (d *Dispatcher) DispatchUpdate(item *domain.Item, userID string) {
	if !d.cfg.Enabled || item == nil || item.DueDate == "" {
		return
	}
	d.fanOut(OpUpdate, item, item.ID, userID)
}

// DispatchRemove deletes the item's event from every backend and drops the
// sync records on success.
func (d *Dispatcher) DispatchRemove(itemID string) {
	if !d.cfg.Enabled || itemID == "" {
		return
	}
	d.fanOut(OpRemove, nil, itemID, "")
}

func (d *Dispatcher) fanOut(op Op, item *domain.Item, itemID, userID string) {
	dispatchID := uuid.NewString()
	var snapshot *domain.Item
	if item != nil {
		snapshot = item.Clone()
	}

	for _, b := range d.backends {
		j := job{
			dispatchID: dispatchID,
			op:         op,
			backend:    b,
			item:       snapshot,
			itemID:     itemID,
			userID:     userID,
		}
		d.inflight.Add(1)
		if d.trySend(j) {
			continue
		}
		// Pool saturated or closed: keep fire-and-forget semantics by running
		// the call on its own goroutine instead of blocking the caller.
		d.logger.WithFields(log.Fields{
			"backend": b.Name(),
			"item":    itemID,
			"op":      string(op),
		}).Warn("sync pool saturated, dispatching inline")
		go d.run(j)
	}

	d.logger.WithFields(log.Fields{
		"dispatch": dispatchID,
		"item":     itemID,
		"op":       string(op),
		"backends": len(d.backends),
	}).Debug("sync dispatch scheduled")
}

func (d *Dispatcher) trySend(j job) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
		}
	}()

	select {
	case d.jobs <- j:
		return true
	default:
	}
	if d.cfg.HandoffTimeout <= 0 {
		return false
	}

	timer := time.NewTimer(d.cfg.HandoffTimeout)
	defer timer.Stop()
	select {
	case d.jobs <- j:
		return true
	case <-timer.C:
		return false
	}
}

func (d *Dispatcher) worker() {
	defer d.workerWG.Done()
	for j := range d.jobs {
		d.run(j)
	}
}

func (d *Dispatcher) run(j job) {
	defer d.inflight.Done()

	ctx, cancel := context.WithTimeout(context.Background(), d.cfg.CallTimeout)
	defer cancel()

	res := Result{
		DispatchID: j.dispatchID,
		Backend:    j.backend.Name(),
		ItemID:     j.itemID,
		Op:         j.op,
	}

	switch j.op {
	case OpAdd:
		res.ExternalID, res.Err = j.backend.AddEvent(ctx, j.item, j.userID)
		if res.Err == nil {
			d.recordPut(ctx, j, res.ExternalID)
		}
	case OpUpdate:
		externalID, tracked, err := d.records.Get(ctx, j.itemID, j.backend.Name())
		switch {
		case err != nil:
			res.Err = err
		case !tracked && d.cfg.UpdateFallback == UpdateFallbackSkip:
			res.Skipped = true
		case !tracked:
			res.ExternalID, res.Err = j.backend.AddEvent(ctx, j.item, j.userID)
			if res.Err == nil {
				d.recordPut(ctx, j, res.ExternalID)
			}
		default:
			res.ExternalID = externalID
			res.Err = j.backend.UpdateEvent(ctx, j.item, j.userID, externalID)
		}
	case OpRemove:
		externalID, _, err := d.records.Get(ctx, j.itemID, j.backend.Name())
		if err != nil {
			res.Err = err
			break
		}
		res.ExternalID = externalID
		res.Err = j.backend.RemoveEvent(ctx, j.itemID, externalID)
		if res.Err == nil {
			if derr := d.records.Delete(ctx, j.itemID, j.backend.Name()); derr != nil {
				d.logger.WithError(derr).WithFields(log.Fields{
					"backend": j.backend.Name(),
					"item":    j.itemID,
				}).Error("failed to drop sync record")
			}
		}
	}

	d.report(res)
}

func (d *Dispatcher) recordPut(ctx context.Context, j job, externalID string) {
	if err := d.records.Put(ctx, j.itemID, j.backend.Name(), externalID); err != nil {
		d.logger.WithError(err).WithFields(log.Fields{
			"backend": j.backend.Name(),
			"item":    j.itemID,
		}).Error("failed to store sync record")
	}
}

func (d *Dispatcher) report(res Result) {
	fields := log.Fields{
		"dispatch": res.DispatchID,
		"backend":  res.Backend,
		"item":     res.ItemID,
		"op":       string(res.Op),
	}
	switch {
	case res.Err != nil:
		d.logger.WithError(res.Err).WithFields(fields).Error("calendar sync failed")
	case res.Skipped:
		d.logger.WithFields(fields).Debug("calendar sync skipped, item untracked")
	default:
		d.logger.WithFields(fields).Info("calendar sync ok")
	}

	if d.cfg.Results != nil {
		select {
		case d.cfg.Results <- res:
		default:
		}
	}
}

// Wait blocks until every scheduled backend task has finished or the context
// expires. It exists for tests and drain-on-shutdown; request paths never
// call it.
func (d *Dispatcher) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		d.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting new work and waits for the pool to drain. Inline
// saturation-path calls that are still running are not waited on; sync
// mirroring is best-effort by contract.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	close(d.jobs)
	d.mu.Unlock()

	d.workerWG.Wait()
}
