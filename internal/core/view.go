package core

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
)

type View string

const (
	ViewData     View = "data"
	ViewChat     View = "chat"
	ViewAnalysis View = "analysis"

	DefaultView = ViewData
)

func ParseView(s string) (View, error) {
	switch v := View(s); v {
	case ViewData, ViewChat, ViewAnalysis:
		return v, nil
	}
	return "", fmt.Errorf("unknown view %q", s)
}

// Layout decides which panes are mounted at once. On desktop the chat pane
// sits next to the data/analysis pane; on mobile only the active view is
// mounted.
type Layout string

const (
	LayoutDesktop Layout = "desktop"
	LayoutMobile  Layout = "mobile"
)

func ParseLayout(s string) (Layout, error) {
	switch l := Layout(s); l {
	case LayoutDesktop, LayoutMobile:
		return l, nil
	}
	return "", fmt.Errorf("unknown layout %q", s)
}

type TargetKind string

const (
	TargetMessage  TargetKind = "message"
	TargetAnalysis TargetKind = "analysis"
)

type ViewEventType string

const (
	EventViewChanged      ViewEventType = "view_changed"
	EventScroll           ViewEventType = "scroll"
	EventHighlight        ViewEventType = "highlight"
	EventHighlightCleared ViewEventType = "highlight_cleared"
)

type ViewEvent struct {
	Type ViewEventType `json:"type"`
	View View          `json:"view,omitempty"`
	Kind TargetKind    `json:"kind,omitempty"`
	ID   int64         `json:"id,omitempty"`
}

const (
	DefaultHighlightDuration = 3 * time.Second
	DefaultRetryDelay        = 100 * time.Millisecond
	subscriberBuffer         = 32
)

// ViewCoordinator tracks the active panel and the scroll targets each panel
// has mounted, and turns navigation requests into scroll/highlight events.
type ViewCoordinator struct {
	mu sync.Mutex

	scheduler         Scheduler
	highlightDuration time.Duration
	retryDelay        time.Duration

	active  View
	layout  Layout
	targets map[TargetKind]map[int64]struct{}

	highlighted map[TargetKind]int64
	clearTimers map[TargetKind]Timer
	retryTimers map[TargetKind]Timer

	subscribers map[string]chan ViewEvent
	closed      bool
}

func NewViewCoordinator(scheduler Scheduler, highlightDuration, retryDelay time.Duration) *ViewCoordinator {
	if scheduler == nil {
		scheduler = SystemScheduler
	}
	if highlightDuration <= 0 {
		highlightDuration = DefaultHighlightDuration
	}
	if retryDelay <= 0 {
		retryDelay = DefaultRetryDelay
	}
	return &ViewCoordinator{
		scheduler:         scheduler,
		highlightDuration: highlightDuration,
		retryDelay:        retryDelay,
		active:            DefaultView,
		layout:            LayoutDesktop,
		targets: map[TargetKind]map[int64]struct{}{
			TargetMessage:  {},
			TargetAnalysis: {},
		},
		highlighted: map[TargetKind]int64{},
		clearTimers: map[TargetKind]Timer{},
		retryTimers: map[TargetKind]Timer{},
		subscribers: map[string]chan ViewEvent{},
	}
}

func (v *ViewCoordinator) ActiveView() View {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.active
}

func (v *ViewCoordinator) Layout() Layout {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.layout
}

// Highlighted returns the highlighted id of the given kind, or 0.
func (v *ViewCoordinator) Highlighted(kind TargetKind) int64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.highlighted[kind]
}

func (v *ViewCoordinator) SetActiveView(view View) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.setActiveLocked(view)
}

func (v *ViewCoordinator) setActiveLocked(view View) {
	if v.active == view {
		return
	}
	v.active = view
	v.emitLocked(ViewEvent{Type: EventViewChanged, View: view})
}

func (v *ViewCoordinator) SetLayout(layout Layout) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.layout = layout
}

func (v *ViewCoordinator) Register(kind TargetKind, id int64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.targets[kind][id] = struct{}{}
}

func (v *ViewCoordinator) Unregister(kind TargetKind, id int64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	delete(v.targets[kind], id)
}

// Reset drops every target and highlight and returns to the default view.
func (v *ViewCoordinator) Reset() {
	v.mu.Lock()
	defer v.mu.Unlock()
	for kind := range v.targets {
		v.targets[kind] = map[int64]struct{}{}
	}
	for _, kind := range []TargetKind{TargetMessage, TargetAnalysis} {
		v.stopTimerLocked(v.clearTimers, kind)
		v.stopTimerLocked(v.retryTimers, kind)
		if v.highlighted[kind] != 0 {
			delete(v.highlighted, kind)
			v.emitLocked(ViewEvent{Type: EventHighlightCleared, Kind: kind})
		}
	}
	v.setActiveLocked(DefaultView)
}

func (v *ViewCoordinator) mountedLocked(kind TargetKind) bool {
	switch kind {
	case TargetAnalysis:
		return v.active == ViewAnalysis
	case TargetMessage:
		return v.layout == LayoutDesktop || v.active == ViewChat
	}
	return false
}

func (v *ViewCoordinator) reachableLocked(kind TargetKind, id int64) bool {
	_, ok := v.targets[kind][id]
	return ok && v.mountedLocked(kind)
}

// ScrollToAndHighlight scrolls to the target and highlights it for the
// highlight duration. A target that is not mounted yet is retried once after
// the retry delay.
func (v *ViewCoordinator) ScrollToAndHighlight(id int64, kind TargetKind) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.stopTimerLocked(v.retryTimers, kind)
	v.scrollLocked(id, kind, true)
}

func (v *ViewCoordinator) scrollLocked(id int64, kind TargetKind, allowRetry bool) {
	if v.closed {
		return
	}
	if !v.reachableLocked(kind, id) {
		if !allowRetry {
			log.Printf("Scroll target %s %d still not mounted, dropping navigation", kind, id)
			return
		}
		var retry Timer
		retry = v.scheduler.AfterFunc(v.retryDelay, func() {
			v.mu.Lock()
			defer v.mu.Unlock()
			if v.retryTimers[kind] != retry {
				return
			}
			delete(v.retryTimers, kind)
			v.scrollLocked(id, kind, false)
		})
		v.retryTimers[kind] = retry
		return
	}

	v.emitLocked(ViewEvent{Type: EventScroll, Kind: kind, ID: id})
	v.highlighted[kind] = id
	v.emitLocked(ViewEvent{Type: EventHighlight, Kind: kind, ID: id})

	// Replace any pending clear so a fast second highlight keeps its full
	// duration.
	v.stopTimerLocked(v.clearTimers, kind)
	var timer Timer
	timer = v.scheduler.AfterFunc(v.highlightDuration, func() {
		v.mu.Lock()
		defer v.mu.Unlock()
		if v.clearTimers[kind] != timer {
			return
		}
		delete(v.clearTimers, kind)
		if v.highlighted[kind] == id {
			delete(v.highlighted, kind)
			v.emitLocked(ViewEvent{Type: EventHighlightCleared, Kind: kind, ID: id})
		}
	})
	v.clearTimers[kind] = timer
}

func (v *ViewCoordinator) stopTimerLocked(timers map[TargetKind]Timer, kind TargetKind) {
	if t, ok := timers[kind]; ok {
		t.Stop()
		delete(timers, kind)
	}
}

// Subscribe returns a channel of view events. Slow subscribers lose events
// rather than block the coordinator.
func (v *ViewCoordinator) Subscribe() (string, <-chan ViewEvent, func()) {
	v.mu.Lock()
	defer v.mu.Unlock()

	id := uuid.NewString()
	ch := make(chan ViewEvent, subscriberBuffer)
	if v.closed {
		close(ch)
		return id, ch, func() {}
	}
	v.subscribers[id] = ch

	cancel := func() {
		v.mu.Lock()
		defer v.mu.Unlock()
		if c, ok := v.subscribers[id]; ok {
			delete(v.subscribers, id)
			close(c)
		}
	}
	return id, ch, cancel
}

func (v *ViewCoordinator) emitLocked(ev ViewEvent) {
	for id, ch := range v.subscribers {
		select {
		case ch <- ev:
		default:
			log.Printf("View subscriber %s is not keeping up, dropped %s event", id, ev.Type)
		}
	}
}

// Close stops pending timers and closes every subscriber channel.
func (v *ViewCoordinator) Close() {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return
	}
	v.closed = true
	for _, kind := range []TargetKind{TargetMessage, TargetAnalysis} {
		v.stopTimerLocked(v.clearTimers, kind)
		v.stopTimerLocked(v.retryTimers, kind)
	}
	for id, ch := range v.subscribers {
		delete(v.subscribers, id)
		close(ch)
	}
}
