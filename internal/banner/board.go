// Package banner holds the transient success and error notices shown on
// each form of a visitor tab.
package banner

import (
	"sort"
	"sync"
	"time"
)

// Kind is the banner style.
type Kind string

const (
	KindSuccess Kind = "success"
	KindError   Kind = "error"
)

// Form names used by the site.
const (
	FormRegister   = "register"
	FormUserLogin  = "user_login"
	FormAdminLogin = "admin_login"
	FormLead       = "lead"
)

// Banner is one notice attached to a form.
type Banner struct {
	Form    string    `json:"form"`
	Kind    Kind      `json:"kind"`
	Text    string    `json:"text"`
	ShownAt time.Time `json:"shown_at"`
}

// AfterFunc schedules f after d and returns a function that cancels it.
type AfterFunc func(d time.Duration, f func()) (stop func() bool)

func realAfterFunc(d time.Duration, f func()) func() bool {
	return time.AfterFunc(d, f).Stop
}

type entry struct {
	banner Banner
	gen    uint64
	stop   func() bool
}

// Board keeps at most one banner per form. Success banners dismiss
// themselves after the configured delay; error banners stay until replaced
// or dismissed.
type Board struct {
	delay time.Duration
	after AfterFunc
	now   func() time.Time

	mu       sync.Mutex
	gen      uint64
	entries  map[string]*entry
	nextWID  uint64
	watchers map[uint64]func([]Banner)
	closed   bool
}

// Option configures a Board.
type Option func(*Board)

// WithAfterFunc replaces the timer used for auto-dismissal.
func WithAfterFunc(fn AfterFunc) Option {
	return func(b *Board) { b.after = fn }
}

// WithClock replaces the clock used for ShownAt.
func WithClock(now func() time.Time) Option {
	return func(b *Board) { b.now = now }
}

// NewBoard creates an empty board.
func NewBoard(delay time.Duration, opts ...Option) *Board {
	b := &Board{
		delay:    delay,
		after:    realAfterFunc,
		now:      time.Now,
		entries:  make(map[string]*entry),
		watchers: make(map[uint64]func([]Banner)),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Show sets the banner for form, replacing and cancelling any earlier one.
func (b *Board) Show(form string, kind Kind, text string) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	if prev, ok := b.entries[form]; ok && prev.stop != nil {
		prev.stop()
	}

	b.gen++
	e := &entry{
		banner: Banner{Form: form, Kind: kind, Text: text, ShownAt: b.now()},
		gen:    b.gen,
	}
	if kind == KindSuccess && b.delay > 0 {
		gen := e.gen
		e.stop = b.after(b.delay, func() { b.expire(form, gen) })
	}
	b.entries[form] = e
	snapshot, watchers := b.snapshotLocked()
	b.mu.Unlock()

	notify(watchers, snapshot)
}

// Dismiss removes the banner for form. It reports whether one was shown.
func (b *Board) Dismiss(form string) bool {
	b.mu.Lock()
	e, ok := b.entries[form]
	if !ok {
		b.mu.Unlock()
		return false
	}
	if e.stop != nil {
		e.stop()
	}
	delete(b.entries, form)
	snapshot, watchers := b.snapshotLocked()
	b.mu.Unlock()

	notify(watchers, snapshot)
	return true
}

// expire removes the banner only if it is still the one the timer was set for.
func (b *Board) expire(form string, gen uint64) {
	b.mu.Lock()
	e, ok := b.entries[form]
	if !ok || e.gen != gen {
		b.mu.Unlock()
		return
	}
	delete(b.entries, form)
	snapshot, watchers := b.snapshotLocked()
	b.mu.Unlock()

	notify(watchers, snapshot)
}

// Get returns the banner for form.
func (b *Board) Get(form string) (Banner, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	e, ok := b.entries[form]
	if !ok {
		return Banner{}, false
	}
	return e.banner, true
}

// All returns every visible banner ordered by form name.
func (b *Board) All() []Banner {
	b.mu.Lock()
	defer b.mu.Unlock()
	snapshot, _ := b.snapshotLocked()
	return snapshot
}

// Watch calls fn with the full banner list after every change.
func (b *Board) Watch(fn func([]Banner)) (stop func()) {
	b.mu.Lock()
	b.nextWID++
	id := b.nextWID
	b.watchers[id] = fn
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		delete(b.watchers, id)
		b.mu.Unlock()
	}
}

// Close cancels every pending dismissal. Later Show calls are ignored.
func (b *Board) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for form, e := range b.entries {
		if e.stop != nil {
			e.stop()
		}
		delete(b.entries, form)
	}
	b.watchers = make(map[uint64]func([]Banner))
	b.closed = true
}

func (b *Board) snapshotLocked() ([]Banner, []func([]Banner)) {
	out := make([]Banner, 0, len(b.entries))
	for _, e := range b.entries {
		out = append(out, e.banner)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Form < out[j].Form })

	watchers := make([]func([]Banner), 0, len(b.watchers))
	for _, fn := range b.watchers {
		watchers = append(watchers, fn)
	}
	return out, watchers
}

func notify(watchers []func([]Banner), snapshot []Banner) {
	for _, fn := range watchers {
		fn(snapshot)
	}
}
