// Package monitoring forwards unexpected failures to an error tracker.
// The process-wide Monitor defaults to a no-op until Init is called.
package monitoring

import (
	"fmt"
	"sync"
	"time"
)

// Monitor reports errors and panics.
type Monitor interface {
	CaptureException(err error, tags map[string]string)
	Flush(timeout time.Duration)
}

type NopMonitor struct{}

func (NopMonitor) CaptureException(error, map[string]string) {}
func (NopMonitor) Flush(time.Duration)                       {}

var (
	mu      sync.RWMutex
	current Monitor = NopMonitor{}
)

// Init installs m as the process-wide monitor. nil restores the no-op.
func Init(m Monitor) {
	mu.Lock()
	defer mu.Unlock()
	if m == nil {
		m = NopMonitor{}
	}
	current = m
}

func get() Monitor {
	mu.RLock()
	defer mu.RUnlock()
	return current
}

// CaptureException records err with optional tags.
func CaptureException(err error, tags map[string]string) {
	if err == nil {
		return
	}
	get().CaptureException(err, tags)
}

// Recover must be deferred directly by the goroutine it protects. The panic
// is reported, then re-raised.
func Recover() {
	if r := recover(); r != nil {
		ReportPanic(r)
		panic(r)
	}
}

// ReportPanic records a recovered panic value. Monitors that cannot take
// panics directly receive it as an error.
func ReportPanic(v any) {
	m := get()
	if rm, ok := m.(PanicReporter); ok {
		rm.ReportPanic(v)
		return
	}
	m.CaptureException(fmt.Errorf("panic: %v", v), nil)
}

// PanicReporter is implemented by monitors that can record a recovered
// panic value.
type PanicReporter interface {
	ReportPanic(v any)
}

// Flush waits up to d for buffered reports to be sent.
func Flush(d time.Duration) { get().Flush(d) }
