// Package observer implements the Observer Bus (spec.md §4.10): sequential,
// error-isolated fan-out of job lifecycle events to any number of
// registered observers. Grounded on the teacher's service layer's
// callback-on-completion pattern, generalized into an explicit bus so the
// Job Manager never needs to know which concrete observers are listening.
package observer

import (
	"github.com/sirupsen/logrus"

	"github.com/cbsinteractive/ump-gateway/internal/job"
	"github.com/cbsinteractive/ump-gateway/internal/metrics"
	"github.com/cbsinteractive/ump-gateway/internal/ogc"
)

// Observer implements any subset of the three lifecycle hooks; embed
// NoopObserver to satisfy the interface without implementing all three.
type Observer interface {
	OnJobCreated(j *job.Job, snapshot ogc.StatusInfo)
	OnStatusChanged(j *job.Job, oldSnapshot, newSnapshot ogc.StatusInfo)
	OnJobCompleted(j *job.Job, finalSnapshot ogc.StatusInfo)
}

// NoopObserver gives a zero-cost base to embed for observers that only
// care about one or two of the three hooks.
type NoopObserver struct{}

func (NoopObserver) OnJobCreated(*job.Job, ogc.StatusInfo)                  {}
func (NoopObserver) OnStatusChanged(*job.Job, ogc.StatusInfo, ogc.StatusInfo) {}
func (NoopObserver) OnJobCompleted(*job.Job, ogc.StatusInfo)                {}

// Bus dispatches lifecycle events to registered observers sequentially, in
// registration order. A panic or nothing-returned error from one observer
// is caught and logged; it never prevents the remaining observers from
// running and never propagates to the Job Manager (spec.md §4.10).
type Bus struct {
	log       *logrus.Logger
	metrics   *metrics.Metrics
	observers []Observer
}

// NewBus builds an empty bus. m is used to count isolated observer panics
// under its observer_errors_total collector; pass nil to skip that
// accounting (e.g. in tests that don't care about metrics).
func NewBus(log *logrus.Logger, m *metrics.Metrics) *Bus {
	return &Bus{log: log, metrics: m}
}

// Register appends an observer, establishing its dispatch order.
func (b *Bus) Register(o Observer) {
	b.observers = append(b.observers, o)
}

func (b *Bus) safely(jobID, hook string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			b.log.WithFields(logrus.Fields{
				"job_id": jobID,
				"hook":   hook,
				"panic":  r,
			}).Error("observer panicked, isolating and continuing")
			if b.metrics != nil {
				b.metrics.ObserverErrorsTotal.WithLabelValues(hook).Inc()
			}
		}
	}()
	fn()
}

// FireJobCreated dispatches OnJobCreated to every observer in order.
func (b *Bus) FireJobCreated(j *job.Job, snapshot ogc.StatusInfo) {
	for _, o := range b.observers {
		obs := o
		b.safely(j.ID, "on_job_created", func() { obs.OnJobCreated(j, snapshot) })
	}
}

// FireStatusChanged dispatches OnStatusChanged to every observer in order.
func (b *Bus) FireStatusChanged(j *job.Job, oldSnapshot, newSnapshot ogc.StatusInfo) {
	for _, o := range b.observers {
		obs := o
		b.safely(j.ID, "on_status_changed", func() { obs.OnStatusChanged(j, oldSnapshot, newSnapshot) })
	}
}

// FireJobCompleted dispatches OnJobCompleted to every observer in order.
func (b *Bus) FireJobCompleted(j *job.Job, finalSnapshot ogc.StatusInfo) {
	for _, o := range b.observers {
		obs := o
		b.safely(j.ID, "on_job_completed", func() { obs.OnJobCompleted(j, finalSnapshot) })
	}
}
