package download

import (
	"fmt"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
)

// Notifier receives download lifecycle events for the host UI.
type Notifier interface {
	NotifyStarted(itemID string)
	NotifyProgress(itemID string, progress int, bytesDownloaded, totalBytes int64)
	NotifyCompleted(itemID string)
	NotifyFailed(itemID string, err error)
}

// NopNotifier discards every event.
type NopNotifier struct{}

func (NopNotifier) NotifyStarted(string) {}

func (NopNotifier) NotifyProgress(string, int, int64, int64) {}

func (NopNotifier) NotifyCompleted(string) {}

func (NopNotifier) NotifyFailed(string, error) {}

// transferStats tracks speed and ETA for one running download.
type transferStats struct {
	startTime  time.Time
	lastUpdate time.Time
	bytes      int64
	total      int64
	speed      float64 // bytes per second
	eta        int     // seconds
}

// callbackEvent is one queued delivery. A progress event has an empty
// status field.
type callbackEvent struct {
	itemID   string
	status   string
	errorMsg string
	progress int
	speed    string
	eta      string
}

// eventBuffer bounds the dispatch queue. Status events block when it is
// full; progress events are dropped instead, newer ones supersede them
// anyway.
const eventBuffer = 256

// CallbackNotifier forwards events to host callbacks. A single dispatch
// goroutine delivers them, so for any item the host observes started,
// progress and the terminal event in emission order, and a panicking
// callback is contained without taking a worker down.
type CallbackNotifier struct {
	mu       sync.RWMutex
	progress func(itemID string, progress int, speed, eta string)
	status   func(itemID string, status, errorMsg string)

	statsMu sync.Mutex
	stats   map[string]*transferStats

	completed int
	failed    int
	total     int

	events    chan callbackEvent
	done      chan struct{}
	drained   chan struct{}
	closeOnce sync.Once
}

// NewCallbackNotifier returns a notifier with no callbacks registered and
// its dispatch goroutine running.
func NewCallbackNotifier() *CallbackNotifier {
	n := &CallbackNotifier{
		stats:   make(map[string]*transferStats),
		events:  make(chan callbackEvent, eventBuffer),
		done:    make(chan struct{}),
		drained: make(chan struct{}),
	}
	go n.dispatch()
	return n
}

// Close stops the dispatch goroutine after draining queued events.
// Events emitted after Close are discarded.
func (n *CallbackNotifier) Close() {
	n.closeOnce.Do(func() {
		close(n.done)
		<-n.drained
	})
}

func (n *CallbackNotifier) dispatch() {
	for {
		select {
		case ev := <-n.events:
			n.deliver(ev)
		case <-n.done:
			for {
				select {
				case ev := <-n.events:
					n.deliver(ev)
				default:
					close(n.drained)
					return
				}
			}
		}
	}
}

func (n *CallbackNotifier) deliver(ev callbackEvent) {
	defer recoverCallback()
	n.mu.RLock()
	progress, status := n.progress, n.status
	n.mu.RUnlock()

	if ev.status == "" {
		if progress != nil {
			progress(ev.itemID, ev.progress, ev.speed, ev.eta)
		}
		return
	}
	if status != nil {
		status(ev.itemID, ev.status, ev.errorMsg)
	}
}

// SetProgressCallback registers the progress callback. Speed and ETA are
// preformatted strings ("3.1 MB/s", "2m 5s").
func (n *CallbackNotifier) SetProgressCallback(cb func(itemID string, progress int, speed, eta string)) {
	n.mu.Lock()
	n.progress = cb
	n.mu.Unlock()
}

// SetStatusCallback registers the status callback. Status is one of
// started, completed, failed.
func (n *CallbackNotifier) SetStatusCallback(cb func(itemID string, status, errorMsg string)) {
	n.mu.Lock()
	n.status = cb
	n.mu.Unlock()
}

func (n *CallbackNotifier) NotifyStarted(itemID string) {
	now := time.Now()
	n.statsMu.Lock()
	n.stats[itemID] = &transferStats{startTime: now, lastUpdate: now}
	n.total++
	n.statsMu.Unlock()

	n.emitStatus(itemID, "started", "")
}

func (n *CallbackNotifier) NotifyProgress(itemID string, progress int, bytesDownloaded, totalBytes int64) {
	now := time.Now()

	n.statsMu.Lock()
	st, ok := n.stats[itemID]
	if !ok {
		st = &transferStats{startTime: now}
		n.stats[itemID] = st
	}
	if elapsed := now.Sub(st.lastUpdate).Seconds(); elapsed > 0 && st.lastUpdate.After(st.startTime) {
		st.speed = float64(bytesDownloaded-st.bytes) / elapsed
	}
	st.bytes = bytesDownloaded
	st.total = totalBytes
	st.lastUpdate = now
	if st.speed > 0 && totalBytes > 0 {
		st.eta = int(float64(totalBytes-bytesDownloaded) / st.speed)
	}
	speed, eta := FormatSpeed(st.speed), FormatETA(st.eta)
	n.statsMu.Unlock()

	// Progress is high-volume and superseded by the next update, so a
	// full queue drops it rather than stalling the transfer.
	select {
	case n.events <- callbackEvent{itemID: itemID, progress: progress, speed: speed, eta: eta}:
	default:
	}
}

func (n *CallbackNotifier) NotifyCompleted(itemID string) {
	n.statsMu.Lock()
	delete(n.stats, itemID)
	n.completed++
	n.statsMu.Unlock()

	n.emitStatus(itemID, "completed", "")
}

func (n *CallbackNotifier) NotifyFailed(itemID string, err error) {
	n.statsMu.Lock()
	delete(n.stats, itemID)
	n.failed++
	n.statsMu.Unlock()

	msg := ""
	if err != nil {
		msg = err.Error()
	}
	n.emitStatus(itemID, "failed", msg)
}

func (n *CallbackNotifier) emitStatus(itemID, status, errorMsg string) {
	select {
	case n.events <- callbackEvent{itemID: itemID, status: status, errorMsg: errorMsg}:
	case <-n.done:
	}
}

// Stats reports aggregate session counters.
func (n *CallbackNotifier) Stats() (active, completed, failed, total int) {
	n.statsMu.Lock()
	defer n.statsMu.Unlock()
	return len(n.stats), n.completed, n.failed, n.total
}

func recoverCallback() {
	// A host callback must never take the worker down with it.
	_ = recover()
}

// FormatSpeed renders bytes per second for the UI.
func FormatSpeed(bytesPerSecond float64) string {
	if bytesPerSecond < 1 {
		return "0 B/s"
	}
	return humanize.Bytes(uint64(bytesPerSecond)) + "/s"
}

// FormatETA renders a second count as a compact duration.
func FormatETA(seconds int) string {
	switch {
	case seconds < 60:
		return fmt.Sprintf("%ds", seconds)
	case seconds < 3600:
		return fmt.Sprintf("%dm %ds", seconds/60, seconds%60)
	default:
		return fmt.Sprintf("%dh %dm", seconds/3600, (seconds%3600)/60)
	}
}
