package monitoring

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type fakeMonitor struct {
	NopMonitor
	errs   []error
	tags   []map[string]string
	panics []any
}

func (f *fakeMonitor) CaptureException(err error, tags map[string]string) {
	f.errs = append(f.errs, err)
	f.tags = append(f.tags, tags)
}

func (f *fakeMonitor) ReportPanic(v any) { f.panics = append(f.panics, v) }

func TestCaptureException(t *testing.T) {
	f := &fakeMonitor{}
	Init(f)
	defer Init(nil)

	CaptureException(nil, nil)
	CaptureException(errors.New("boom"), map[string]string{"vehicle_id": "v1"})
	assert.Len(t, f.errs, 1)
	assert.Equal(t, "v1", f.tags[0]["vehicle_id"])
	Flush(time.Millisecond)
}

func TestRecover_Repanics(t *testing.T) {
	f := &fakeMonitor{}
	Init(f)
	defer Init(nil)

	assert.PanicsWithValue(t, "kaboom", func() {
		defer Recover()
		panic("kaboom")
	})
	assert.Equal(t, []any{"kaboom"}, f.panics)
}

type errorsOnly struct {
	NopMonitor
	errs []error
}

func (e *errorsOnly) CaptureException(err error, _ map[string]string) { e.errs = append(e.errs, err) }

func TestReportPanic(t *testing.T) {
	f := &fakeMonitor{}
	Init(f)
	ReportPanic("first")
	assert.Equal(t, []any{"first"}, f.panics)

	e := &errorsOnly{}
	Init(e)
	defer Init(nil)
	ReportPanic("second")
	if assert.Len(t, e.errs, 1) {
		assert.EqualError(t, e.errs[0], "panic: second")
	}
}
