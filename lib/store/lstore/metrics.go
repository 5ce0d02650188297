package lstore

import (
	"fmt"
	"io"
	"time"

	"github.com/ValentinKolb/eKV/lib/store"
	"github.com/VictoriaMetrics/metrics"
	gometrics "github.com/rcrowley/go-metrics"
)

// storeMetrics are registered in a set owned by the store, so several stores in
// one process do not collide.
type storeMetrics struct {
	set            *metrics.Set
	commits        *metrics.Counter
	rollbacks      *metrics.Counter
	emptyCommits   *metrics.Counter
	changes        *metrics.Counter
	hookFailures   *metrics.Counter
	commitDuration *metrics.Histogram

	// per extension hook timers
	hooks gometrics.Registry
}

func newStoreMetrics(s *storeImpl) *storeMetrics {
	set := metrics.NewSet()
	m := &storeMetrics{
		set:            set,
		commits:        set.NewCounter("ekv_commits_total"),
		rollbacks:      set.NewCounter("ekv_rollbacks_total"),
		emptyCommits:   set.NewCounter("ekv_empty_commits_total"),
		changes:        set.NewCounter("ekv_changes_total"),
		hookFailures:   set.NewCounter("ekv_extension_failures_total"),
		commitDuration: set.NewHistogram("ekv_commit_duration_seconds"),
		hooks:          gometrics.NewRegistry(),
	}
	set.NewGauge("ekv_version", func() float64 {
		return float64(s.state.Load().version)
	})
	set.NewGauge("ekv_open_read_transactions", func() float64 {
		n, _, _ := s.openReads()
		return float64(n)
	})
	set.NewGauge("ekv_oldest_open_read_version", func() float64 {
		_, oldest, _ := s.openReads()
		return float64(oldest)
	})
	set.NewGauge("ekv_notification_backlog", func() float64 {
		return float64(s.notificationBacklog())
	})
	set.NewGauge("ekv_object_cache_entries", func() float64 {
		return float64(s.cache.len())
	})
	set.NewGauge("ekv_extensions", func() float64 {
		return float64(len(s.state.Load().exts))
	})
	return m
}

func hookTimerName(ext string) string  { return fmt.Sprintf("ext.%s.process", ext) }
func hookErrorsName(ext string) string { return fmt.Sprintf("ext.%s.errors", ext) }

// observeHook records one ProcessChanges call
func (m *storeMetrics) observeHook(ext string, d time.Duration, failed bool) {
	gometrics.GetOrRegisterTimer(hookTimerName(ext), m.hooks).Update(d)
	if failed {
		gometrics.GetOrRegisterCounter(hookErrorsName(ext), m.hooks).Inc(1)
		m.hookFailures.Inc()
	}
}

func (m *storeMetrics) hookStats(ext string) store.ExtensionStats {
	t := gometrics.GetOrRegisterTimer(hookTimerName(ext), m.hooks).Snapshot()
	errs := gometrics.GetOrRegisterCounter(hookErrorsName(ext), m.hooks).Snapshot()
	return store.ExtensionStats{
		Name:   ext,
		Calls:  t.Count(),
		Errors: errs.Count(),
		Mean:   time.Duration(t.Mean()),
		P99:    time.Duration(t.Percentile(0.99)),
		Max:    time.Duration(t.Max()),
	}
}

func (m *storeMetrics) dropHooks(ext string) {
	m.hooks.Unregister(hookTimerName(ext))
	m.hooks.Unregister(hookErrorsName(ext))
}

func (m *storeMetrics) write(w io.Writer) {
	m.set.WritePrometheus(w)
}
