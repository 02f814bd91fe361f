package assessment

import (
	"sync"
	"time"
)

// ClockState is the display projection of a Clock.
type ClockState struct {
	RemainingSeconds int  `json:"remaining_seconds"`
	LimitSeconds     int  `json:"limit_seconds"`
	Running          bool `json:"running"`
	Expired          bool `json:"expired"`
}

// PercentRemaining reports the remaining share of the armed limit, clamped to [0, 100].
func (s ClockState) PercentRemaining() float64 {
	if s.LimitSeconds <= 0 {
		return 0
	}
	pct := 100 * float64(s.RemainingSeconds) / float64(s.LimitSeconds)
	switch {
	case pct < 0:
		return 0
	case pct > 100:
		return 100
	default:
		return pct
	}
}

// TickSource delivers a repeating callback until stopped. Stop must not wait for an
// in-flight callback to return.
type TickSource interface {
	Start(fn func())
	Stop()
}

type tickerSource struct {
	interval time.Duration
	mu       sync.Mutex
	stop     chan struct{}
}

// NewTickerSource drives callbacks from a time.Ticker goroutine.
func NewTickerSource(interval time.Duration) TickSource {
	if interval <= 0 {
		interval = time.Second
	}
	return &tickerSource{interval: interval}
}

func (s *tickerSource) Start(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stop != nil {
		return
	}
	stop := make(chan struct{})
	s.stop = stop

	go func() {
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				fn()
			}
		}
	}()
}

func (s *tickerSource) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stop != nil {
		close(s.stop)
		s.stop = nil
	}
}

// Clock is a countdown that ticks once per second while running and pushes a single
// expiry notification per arming.
type Clock struct {
	mu        sync.Mutex
	source    TickSource
	limit     int
	remaining int
	running   bool
	expired   bool
	fired     bool
	// generation invalidates callbacks from a source that has since been stopped.
	generation uint64

	onExpire func()
	onTick   func(ClockState)
}

// NewClock arms a clock with limitSeconds. A nil source uses a one second ticker.
func NewClock(limitSeconds int, source TickSource) *Clock {
	if source == nil {
		source = NewTickerSource(time.Second)
	}
	if limitSeconds < 0 {
		limitSeconds = 0
	}
	return &Clock{
		source:    source,
		limit:     limitSeconds,
		remaining: limitSeconds,
	}
}

// OnExpire replaces the expiry handler. The clock always calls the handler installed at
// the moment of expiry, never one captured when ticking started.
func (c *Clock) OnExpire(fn func()) {
	c.mu.Lock()
	c.onExpire = fn
	c.mu.Unlock()
}

// OnTick replaces the per-tick observer.
func (c *Clock) OnTick(fn func(ClockState)) {
	c.mu.Lock()
	c.onTick = fn
	c.mu.Unlock()
}

// Start begins ticking. It is a no-op when already running or when no time remains.
func (c *Clock) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running || c.remaining <= 0 {
		return
	}
	c.running = true
	c.generation++
	gen := c.generation
	c.source.Start(func() { c.tick(gen) })
}

// Pause stops ticking and keeps the remaining time.
func (c *Clock) Pause() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pauseLocked()
}

func (c *Clock) pauseLocked() {
	if !c.running {
		return
	}
	c.running = false
	c.generation++
	c.source.Stop()
}

// Reset re-arms the clock with limit (or the last configured limit when omitted).
func (c *Clock) Reset(limit ...int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.pauseLocked()
	if len(limit) > 0 && limit[0] >= 0 {
		c.limit = limit[0]
	}
	c.remaining = c.limit
	c.expired = false
	c.fired = false
}

// State returns the current clock projection.
func (c *Clock) State() ClockState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stateLocked()
}

func (c *Clock) stateLocked() ClockState {
	return ClockState{
		RemainingSeconds: c.remaining,
		LimitSeconds:     c.limit,
		Running:          c.running,
		Expired:          c.expired,
	}
}

func (c *Clock) tick(gen uint64) {
	c.mu.Lock()
	if !c.running || gen != c.generation {
		c.mu.Unlock()
		return
	}

	c.remaining--
	var expire func()
	if c.remaining <= 0 {
		c.remaining = 0
		c.expired = true
		c.pauseLocked()
		if !c.fired {
			c.fired = true
			expire = c.onExpire
		}
	}

	state := c.stateLocked()
	onTick := c.onTick
	c.mu.Unlock()

	if onTick != nil {
		onTick(state)
	}
	if expire != nil {
		expire()
	}
}
