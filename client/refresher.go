package client

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"tripboard/logging"
	"tripboard/models"
)

// DefaultInterval is the polling period.
const DefaultInterval = 5 * time.Second

// Fetcher is the change-detection call the refresher polls.
type Fetcher interface {
	CheckForUpdate(ctx context.Context, known string) (Result, error)
}

type RefresherOptions struct {
	Interval time.Duration
	// Timeout bounds one fetch; DefaultTimeout when zero.
	Timeout time.Duration
	// LiveURL enables the websocket trigger when set.
	LiveURL string
	// OnUpdate receives every applied document, from the loop goroutine.
	OnUpdate func(models.TripData)
	Logger   *zerolog.Logger
}

// Refresher keeps a local copy of the document current. It polls on a
// fixed interval, refetches unconditionally on Focus and Visible, and
// treats live frames as an extra nudge to poll.
type Refresher struct {
	fetch Fetcher
	opts  RefresherOptions
	log   *zerolog.Logger

	force chan struct{}
	nudge chan struct{}

	mu      sync.RWMutex
	current models.TripData
	applied bool

	startOnce sync.Once
	stopOnce  sync.Once
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

func NewRefresher(f Fetcher, opts RefresherOptions) *Refresher {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	log := opts.Logger
	if log == nil {
		log = logging.Nop()
	}
	return &Refresher{
		fetch: f,
		opts:  opts,
		log:   log,
		force: make(chan struct{}, 1),
		nudge: make(chan struct{}, 1),
	}
}

// Start loads the document once and begins the loop. Later calls are no-ops.
func (r *Refresher) Start(ctx context.Context) {
	r.startOnce.Do(func() {
		ctx, r.cancel = context.WithCancel(ctx)
		r.wg.Add(1)
		go r.loop(ctx)
		if r.opts.LiveURL != "" {
			r.wg.Add(1)
			go r.listen(ctx)
		}
	})
}

// Stop releases the ticker, the triggers and the socket and waits for
// every goroutine to exit.
func (r *Refresher) Stop() {
	r.stopOnce.Do(func() {
		if r.cancel != nil {
			r.cancel()
		}
	})
	r.wg.Wait()
}

// Focus is called when the window regains focus.
func (r *Refresher) Focus() { signal(r.force) }

// Visible is called when the page becomes visible again.
func (r *Refresher) Visible() { signal(r.force) }

// Current returns the last applied document and whether one was applied.
func (r *Refresher) Current() (models.TripData, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.current.Clone(), r.applied
}

func (r *Refresher) lastUpdated() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.current.LastUpdated
}

func signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

func (r *Refresher) loop(ctx context.Context) {
	defer r.wg.Done()
	ticker := time.NewTicker(r.opts.Interval)
	defer ticker.Stop()

	r.refresh(ctx, true)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.refresh(ctx, false)
		case <-r.nudge:
			r.refresh(ctx, false)
		case <-r.force:
			r.refresh(ctx, true)
		}
	}
}

// refresh runs one fetch. Failures are logged and left to the next tick.
func (r *Refresher) refresh(ctx context.Context, force bool) {
	known := ""
	if !force {
		known = r.lastUpdated()
	}
	callCtx, cancel := context.WithTimeout(ctx, r.opts.Timeout)
	defer cancel()

	res, err := r.fetch.CheckForUpdate(callCtx, known)
	if err != nil {
		// Errors caused by Stop are not worth a warning.
		if ctx.Err() == nil {
			r.log.Warn().Err(err).Bool("forced", force).Msg("refresh failed; retrying next interval")
		}
		return
	}
	if res.NoChanges || res.Data == nil {
		return
	}
	if !r.apply(*res.Data) {
		r.log.Debug().Str("lastUpdated", res.Data.LastUpdated).Msg("discarding stale response")
		return
	}
	if r.opts.OnUpdate != nil {
		r.opts.OnUpdate(res.Data.Clone())
	}
}

// apply stores doc unless it is older than what is already shown. Stamps
// share one fixed-width layout, so string order is time order.
func (r *Refresher) apply(doc models.TripData) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.applied && doc.LastUpdated < r.current.LastUpdated {
		return false
	}
	r.current = doc.Clone()
	r.applied = true
	return true
}

// listen keeps a websocket open and nudges the loop whenever a frame
// announces a stamp other than the current one.
func (r *Refresher) listen(ctx context.Context) {
	defer r.wg.Done()
	backoff := time.Second
	for {
		conn, _, err := websocket.DefaultDialer.DialContext(ctx, r.opts.LiveURL, nil)
		if err == nil {
			backoff = time.Second
			r.readFrames(ctx, conn)
		} else if ctx.Err() == nil {
			r.log.Debug().Err(err).Msg("live feed unavailable")
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		if backoff < 30*time.Second {
			backoff *= 2
		}
	}
}

func (r *Refresher) readFrames(ctx context.Context, conn *websocket.Conn) {
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
			conn.Close()
		}
	}()
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var change struct {
			LastUpdated string `json:"lastUpdated"`
		}
		if json.Unmarshal(raw, &change) != nil {
			continue
		}
		if change.LastUpdated != r.lastUpdated() {
			signal(r.nudge)
		}
	}
}
