package prometheus

import (
	"context"
	"sync"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"

	"github.com/Swind/go-proc-scheduler/core"
)

// SchedulerSnapshotProvider provides current scheduler stats snapshots.
type SchedulerSnapshotProvider interface {
	Stats() core.SchedulerStats
}

// SnapshotPoller periodically exports scheduler Stats() snapshots into Prometheus gauges.
type SnapshotPoller struct {
	interval time.Duration

	schedulersMu sync.RWMutex
	schedulers   map[string]SchedulerSnapshotProvider

	tasks           *prom.GaugeVec
	headTaskID      *prom.GaugeVec
	dispatches      *prom.GaugeVec
	preemptions     *prom.GaugeVec
	exits           *prom.GaugeVec
	inconsistencies *prom.GaugeVec
	running         *prom.GaugeVec
	lastDispatch    *prom.GaugeVec

	stateMu sync.Mutex
	started bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewSnapshotPoller creates a snapshot poller and registers its collectors.
func NewSnapshotPoller(namespace string, reg prom.Registerer, interval time.Duration) (*SnapshotPoller, error) {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	if reg == nil {
		reg = prom.DefaultRegisterer
	}
	if interval <= 0 {
		interval = time.Second
	}

	gauge := func(name, help string) *prom.GaugeVec {
		return prom.NewGaugeVec(prom.GaugeOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      name,
			Help:      help,
		}, []string{"scheduler"})
	}

	p := &SnapshotPoller{
		interval:        interval,
		schedulers:      make(map[string]SchedulerSnapshotProvider),
		tasks:           gauge("tasks", "Number of tracked tasks per scheduler."),
		headTaskID:      gauge("head_task_id", "Scheduler id of the current head (-1 when empty)."),
		dispatches:      gauge("dispatches", "Scheduler dispatch count snapshot."),
		preemptions:     gauge("preemptions", "Scheduler preemption count snapshot."),
		exits:           gauge("exits", "Scheduler observed exit count snapshot."),
		inconsistencies: gauge("inconsistencies", "Scheduler registry inconsistency count snapshot."),
		running:         gauge("running", "Scheduler running state (1=running, 0=stopped)."),
		lastDispatch:    gauge("last_dispatch_timestamp_seconds", "Unix time of the last dispatch."),
	}

	var err error
	for _, vec := range []**prom.GaugeVec{
		&p.tasks, &p.headTaskID, &p.dispatches, &p.preemptions,
		&p.exits, &p.inconsistencies, &p.running, &p.lastDispatch,
	} {
		if *vec, err = registerCollector(reg, *vec); err != nil {
			return nil, err
		}
	}
	return p, nil
}

// AddScheduler adds or replaces a scheduler snapshot provider by name.
func (p *SnapshotPoller) AddScheduler(name string, provider SchedulerSnapshotProvider) {
	if p == nil || provider == nil {
		return
	}
	name = normalizeLabel(name, "scheduler")
	p.schedulersMu.Lock()
	p.schedulers[name] = provider
	p.schedulersMu.Unlock()
}

// Start begins periodic polling; repeated calls are no-ops.
func (p *SnapshotPoller) Start(ctx context.Context) {
	if p == nil {
		return
	}

	p.stateMu.Lock()
	if p.started {
		p.stateMu.Unlock()
		return
	}
	pollCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.done = make(chan struct{})
	p.started = true
	p.stateMu.Unlock()

	go p.loop(pollCtx)
}

// Stop stops periodic polling after a final collection; repeated calls are safe.
func (p *SnapshotPoller) Stop() {
	if p == nil {
		return
	}

	p.stateMu.Lock()
	if !p.started {
		p.stateMu.Unlock()
		return
	}
	cancel := p.cancel
	done := p.done
	p.stateMu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
	p.collectOnce()

	p.stateMu.Lock()
	p.started = false
	p.cancel = nil
	p.done = nil
	p.stateMu.Unlock()
}

func (p *SnapshotPoller) loop(ctx context.Context) {
	defer close(p.done)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.collectOnce()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.collectOnce()
		}
	}
}

func (p *SnapshotPoller) collectOnce() {
	p.schedulersMu.RLock()
	defer p.schedulersMu.RUnlock()

	for name, provider := range p.schedulers {
		stats := provider.Stats()
		p.tasks.WithLabelValues(name).Set(float64(stats.Tasks))
		if stats.HasHead {
			p.headTaskID.WithLabelValues(name).Set(float64(stats.HeadID))
		} else {
			p.headTaskID.WithLabelValues(name).Set(-1)
		}
		p.dispatches.WithLabelValues(name).Set(float64(stats.Dispatches))
		p.preemptions.WithLabelValues(name).Set(float64(stats.Preemptions))
		p.exits.WithLabelValues(name).Set(float64(stats.Exits))
		p.inconsistencies.WithLabelValues(name).Set(float64(stats.Inconsistencies))
		if stats.Running {
			p.running.WithLabelValues(name).Set(1)
		} else {
			p.running.WithLabelValues(name).Set(0)
		}
		if !stats.LastDispatchAt.IsZero() {
			p.lastDispatch.WithLabelValues(name).Set(float64(stats.LastDispatchAt.UnixNano()) / 1e9)
		}
	}
}
