package review

import (
	"context"
	"log"
	"sync"
	"time"
)

// DefaultDelay is the debounce window: a flush fires this long after the
// most recent sub-event for a review, not after the first.
const DefaultDelay = 2 * time.Second

// Key identifies one logical review action on the source platform.
type Key struct {
	Repo     string
	Number   int
	ReviewID int64
}

// Comment is one inline review comment buffered for the combined flush.
type Comment struct {
	Body string
	URL  string
}

// Flush is the combined payload delivered once per review identity after
// the debounce window closes.
type Flush struct {
	Key      Key
	Author   string
	URL      string
	Body     string
	HasBody  bool // true once the "submitted" event arrived with a body
	Comments []Comment

	// Item snapshot for defensive thread resolution at flush time.
	Title   string
	ItemURL string
}

// Sink receives flushed reviews. The dispatcher implements this by
// resolving the pull request's thread and emitting the messages.
type Sink interface {
	FlushReview(ctx context.Context, flush Flush)
}

// Coalescer buffers a submitted review and its inline comments, which
// GitHub delivers as separate webhooks in unspecified order within a
// short window, and flushes them as one combined delivery.
type Coalescer struct {
	mu      sync.Mutex
	delay   time.Duration
	sink    Sink
	pending map[Key]*entry
}

type entry struct {
	flush Flush
	timer *time.Timer
	gen   uint64 // bumped on every reschedule; a fired timer with a stale gen aborts
}

// NewCoalescer creates a coalescer delivering to sink after delay of
// quiet time per review key. A non-positive delay uses DefaultDelay.
func NewCoalescer(sink Sink, delay time.Duration) *Coalescer {
	if delay <= 0 {
		delay = DefaultDelay
	}
	return &Coalescer{
		delay:   delay,
		sink:    sink,
		pending: make(map[Key]*entry),
	}
}

// AddReview records the "review submitted" sub-event and (re)schedules
// the flush.
func (c *Coalescer) AddReview(key Key, author, url, body, title, itemURL string) {
	c.upsert(key, author, url, title, itemURL, func(e *entry) {
		if body != "" {
			e.flush.Body = body
			e.flush.HasBody = true
		}
	})
}

// AddComment records one inline review comment and (re)schedules the
// flush. Comments are delivered in arrival order.
func (c *Coalescer) AddComment(key Key, author, url, commentBody, commentURL, title, itemURL string) {
	c.upsert(key, author, url, title, itemURL, func(e *entry) {
		e.flush.Comments = append(e.flush.Comments, Comment{Body: commentBody, URL: commentURL})
	})
}

// PendingCount reports how many review keys are awaiting a flush.
func (c *Coalescer) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// Stop cancels every pending flush. Buffered reviews are dropped; Stop is
// for process shutdown only.
func (c *Coalescer) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key, e := range c.pending {
		e.timer.Stop()
		delete(c.pending, key)
	}
}

func (c *Coalescer) upsert(key Key, author, url, title, itemURL string, apply func(*entry)) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.pending[key]
	if !ok {
		e = &entry{flush: Flush{Key: key, Author: author, URL: url, Title: title, ItemURL: itemURL}}
		c.pending[key] = e
	} else {
		// The prior timer is superseded. Stopping it is best-effort: if
		// it already fired, the stale generation check below keeps the
		// fired goroutine from flushing.
		e.timer.Stop()
	}
	if e.flush.Author == "" {
		e.flush.Author = author
	}
	apply(e)

	e.gen++
	gen := e.gen
	e.timer = time.AfterFunc(c.delay, func() {
		c.fire(key, gen)
	})
}

// fire pops and delivers the entry, unless a newer sub-event superseded
// this timer between its expiry and acquiring the lock.
func (c *Coalescer) fire(key Key, gen uint64) {
	c.mu.Lock()
	e, ok := c.pending[key]
	if !ok || e.gen != gen {
		c.mu.Unlock()
		return
	}
	delete(c.pending, key)
	flush := e.flush
	c.mu.Unlock()

	log.Printf("[INFO] Flushing review %d on %s#%d: body=%t, comments=%d",
		key.ReviewID, key.Repo, key.Number, flush.HasBody, len(flush.Comments))
	c.sink.FlushReview(context.Background(), flush)
}
