package render

import (
	"bytes"
	"context"
	"sort"
	"sync"
	"time"

	v1 "subforge/internal/contracts/renderer/v1"
	"subforge/internal/pkg/logger"
)

// fakeClock fires timers only when advanced.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

type fakeTimer struct {
	clock   *fakeClock
	at      time.Time
	f       func()
	stopped bool
	fired   bool
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{clock: c, at: c.now.Add(d), f: f}
	c.timers = append(c.timers, t)
	return t
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	active := !t.stopped && !t.fired
	t.stopped = true
	return active
}

// Advance moves time forward and runs every timer that came due, in due
// order, outside the clock lock.
func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	var due []*fakeTimer
	for _, t := range c.timers {
		if !t.stopped && !t.fired && !t.at.After(c.now) {
			t.fired = true
			due = append(due, t)
		}
	}
	c.mu.Unlock()

	sort.SliceStable(due, func(i, j int) bool { return due[i].at.Before(due[j].at) })
	for _, t := range due {
		t.f()
	}
}

// Active counts timers that are armed and not yet fired.
func (c *fakeClock) Active() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.timers {
		if !t.stopped && !t.fired {
			n++
		}
	}
	return n
}

type fakeChannel struct {
	mu        sync.Mutex
	sent      []v1.RenderRequest
	cancelled []string
	sendErr   error
	cancelErr error
	onSend    func(v1.RenderRequest)
}

func (f *fakeChannel) Send(_ context.Context, req v1.RenderRequest) error {
	f.mu.Lock()
	f.sent = append(f.sent, req)
	err, hook := f.sendErr, f.onSend
	f.mu.Unlock()
	if hook != nil {
		hook(req)
	}
	return err
}

func (f *fakeChannel) Cancel(_ context.Context, msg v1.CancelMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled = append(f.cancelled, msg.OperationID)
	return f.cancelErr
}

func (f *fakeChannel) Sent() []v1.RenderRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]v1.RenderRequest(nil), f.sent...)
}

func (f *fakeChannel) Cancelled() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.cancelled...)
}

// syncBuffer lets the coordinator log from timer goroutines while the test
// reads.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func testLogger() (*logger.Logger, *syncBuffer) {
	buf := &syncBuffer{}
	return logger.New(logger.Config{Level: "debug", Format: "json", Output: buf}), buf
}

func request(id string) v1.RenderRequest {
	return v1.RenderRequest{
		OperationID:   id,
		SRTContent:    "1\n00:00:00,000 --> 00:00:01,000\nhello\n",
		VideoDuration: 12.5,
		VideoWidth:    1920,
		VideoHeight:   1080,
		FrameRate:     30,
	}
}

func progress(id string, pct float64) v1.Event {
	return v1.ProgressOf(v1.ProgressEvent{OperationID: id, Percent: pct, Stage: "render"})
}

func success(id, path string) v1.Event {
	return v1.ResultOf(v1.ResultEvent{OperationID: id, Success: true, OutputPath: path})
}

func failure(id, msg string) v1.Event {
	return v1.ResultOf(v1.ResultEvent{OperationID: id, Success: false, Error: msg})
}
