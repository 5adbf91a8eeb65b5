// Package relay is the multi-relay client: best-effort fan-out over a
// configurable relay set with per-relay read/write permissions. Partial
// failure is the normal case; a relay that cannot be reached is logged
// and skipped, and an operation succeeds as long as one relay serves it.
// Inbound events are signature-verified here, before anything downstream
// can see them.
package relay

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nbd-wtf/go-nostr"
	"github.com/puzpuzpuz/xsync/v2"

	log2 "github.com/nostrmail/nostrmail/pkg/log"
)

var log = log2.GetStd()

var (
	// ErrNoRelays reports that no configured relay is eligible for the
	// requested operation. This is the only relay error surfaced to the
	// user as a hard failure.
	ErrNoRelays = errors.New("no relays configured")
	// ErrAllRelaysFailed reports that every eligible relay refused or
	// timed out on a publish.
	ErrAllRelaysFailed = errors.New("all relays failed")
)

// Perms is the per-relay configuration.
type Perms struct {
	Read    bool `json:"read"`
	Write   bool `json:"write"`
	Enabled bool `json:"enabled"`
}

// DefaultTimeout bounds the wait on any single relay: a relay is not
// obligated to send EOSE, so every subscription runs under a deadline.
const DefaultTimeout = 10 * time.Second

// Client fans out over a set of relay endpoints.
type Client struct {
	mx      sync.Mutex
	relays  map[string]*Perms
	Timeout time.Duration
}

// New returns a client over the given relay URLs, each enabled for read
// and write.
func New(urls ...string) *Client {
	c := &Client{relays: map[string]*Perms{}, Timeout: DefaultTimeout}
	for _, u := range urls {
		c.relays[u] = &Perms{Read: true, Write: true, Enabled: true}
	}
	return c
}

// SetRelays replaces the relay set.
func (c *Client) SetRelays(relays map[string]*Perms) {
	c.mx.Lock()
	defer c.mx.Unlock()
	c.relays = map[string]*Perms{}
	for u, p := range relays {
		cp := *p
		c.relays[u] = &cp
	}
}

// Relays returns a copy of the relay set.
func (c *Client) Relays() map[string]Perms {
	c.mx.Lock()
	defer c.mx.Unlock()
	out := make(map[string]Perms, len(c.relays))
	for u, p := range c.relays {
		out[u] = *p
	}
	return out
}

// SetEnabled toggles a single relay without touching the others.
func (c *Client) SetEnabled(url string, on bool) {
	c.mx.Lock()
	defer c.mx.Unlock()
	if p, ok := c.relays[url]; ok {
		p.Enabled = on
	}
}

func (c *Client) eligible(want Perms) (urls []string) {
	c.mx.Lock()
	defer c.mx.Unlock()
	for u, p := range c.relays {
		if !p.Enabled {
			continue
		}
		if want.Write && !p.Write {
			continue
		}
		if !want.Write && !p.Read {
			continue
		}
		urls = append(urls, u)
	}
	return
}

// Iterator is run once per connected relay; returning false cancels the
// remaining relays.
type Iterator func(ctx context.Context, rl *nostr.Relay) bool

// Do connects to every eligible relay concurrently and runs f on each
// connection, returning how many relays were actually reached. A single
// connection failure is logged and tolerated; reaching none of them is
// warned about, because an empty result from a dead network must not
// read as "no events".
func (c *Client) Do(ctx context.Context, want Perms, f Iterator) (int, error) {
	urls := c.eligible(want)
	if len(urls) == 0 {
		return 0, ErrNoRelays
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	var wg sync.WaitGroup
	var connected atomic.Int64
	for _, u := range urls {
		wg.Add(1)
		go func(u string) {
			defer wg.Done()
			cctx, ccancel := context.WithTimeout(ctx, c.timeout())
			defer ccancel()
			rl, err := nostr.RelayConnect(cctx, u)
			if err != nil {
				log.D.F("relay %s unavailable: %v", u, err)
				return
			}
			connected.Add(1)
			defer func() { log.Fail(rl.Close()) }()
			if !f(cctx, rl) {
				cancel()
			}
		}(u)
	}
	wg.Wait()
	n := int(connected.Load())
	if n == 0 {
		log.W.F("none of %d relays reachable", len(urls))
	}
	return n, nil
}

func (c *Client) timeout() time.Duration {
	if c.Timeout > 0 {
		return c.Timeout
	}
	return DefaultTimeout
}

// Query runs the filter against every readable relay, drops events whose
// signature does not verify, deduplicates by event id across relays and
// returns the result ordered by created_at ascending.
func (c *Client) Query(ctx context.Context, f nostr.Filter) ([]*nostr.Event, error) {
	seen := xsync.NewMapOf[*nostr.Event]()
	_, err := c.Do(ctx, Perms{Read: true}, func(ctx context.Context, rl *nostr.Relay) bool {
		evs, err := rl.QuerySync(ctx, f)
		if err != nil {
			log.D.F("query on %s failed: %v", rl.URL, err)
			return true
		}
		for _, ev := range evs {
			if _, dup := seen.Load(ev.ID); dup {
				continue
			}
			if ok, err := ev.CheckSignature(); !ok || err != nil {
				log.D.F("dropping event %s with bad signature from %s", ev.ID, rl.URL)
				continue
			}
			seen.LoadOrStore(ev.ID, ev)
		}
		return true
	})
	if err != nil {
		return nil, err
	}
	var evs []*nostr.Event
	seen.Range(func(_ string, ev *nostr.Event) bool {
		evs = append(evs, ev)
		return true
	})
	sort.Slice(evs, func(i, j int) bool {
		if evs[i].CreatedAt != evs[j].CreatedAt {
			return evs[i].CreatedAt < evs[j].CreatedAt
		}
		return evs[i].ID < evs[j].ID
	})
	return evs, nil
}

// FetchLatest returns the single freshest verified event matching the
// filter across all responding relays, or nil if none returned one.
func (c *Client) FetchLatest(ctx context.Context, f nostr.Filter) (*nostr.Event, error) {
	if f.Limit == 0 {
		f.Limit = 1
	}
	evs, err := c.Query(ctx, f)
	if err != nil {
		return nil, err
	}
	if len(evs) == 0 {
		return nil, nil
	}
	return evs[len(evs)-1], nil
}

// Publish sends the event to every writable relay concurrently and
// returns the number of acknowledgements. One ack is success; zero is
// ErrAllRelaysFailed.
func (c *Client) Publish(ctx context.Context, ev nostr.Event) (int, error) {
	var success atomic.Int64
	_, err := c.Do(ctx, Perms{Write: true}, func(ctx context.Context, rl *nostr.Relay) bool {
		if err := rl.Publish(ctx, ev); err != nil {
			log.D.F("publish to %s failed: %v", rl.URL, err)
		} else {
			success.Add(1)
		}
		return true
	})
	if err != nil {
		return 0, err
	}
	if success.Load() == 0 {
		return 0, ErrAllRelaysFailed
	}
	return int(success.Load()), nil
}

// HasEvent polls the relay set for an event id, used to confirm that a
// published event has been observed back from the network.
func (c *Client) HasEvent(ctx context.Context, id string) (bool, error) {
	evs, err := c.Query(ctx, nostr.Filter{IDs: []string{id}, Limit: 1})
	if err != nil {
		return false, err
	}
	return len(evs) > 0, nil
}
