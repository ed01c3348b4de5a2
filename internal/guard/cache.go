package guard

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/testerbesterkali/marketer/internal/adapters"
	"github.com/testerbesterkali/marketer/internal/models"
	"github.com/testerbesterkali/marketer/internal/store"
)

type LoadState int

const (
	NotStarted LoadState = iota
	InFlight
	Done
	Failed
)

func (s LoadState) String() string {
	switch s {
	case InFlight:
		return "in_flight"
	case Done:
		return "done"
	case Failed:
		return "failed"
	default:
		return "not_started"
	}
}

type WorkspaceLoader interface {
	GetWorkspace(ctx context.Context, id string) (*models.Workspace, error)
	GetBrandProfile(ctx context.Context, workspaceID string) (*models.BrandProfile, error)
}

// Snapshot is a cached read of a workspace and its brand profile (nil until analyzed).
type Snapshot struct {
	Workspace    *models.Workspace
	BrandProfile *models.BrandProfile
	LoadedAt     time.Time
}

type cacheEntry struct {
	state LoadState
	snap  *Snapshot
	err   error
}

// WorkspaceCache is a read-through projection of server state, invalidated explicitly.
// Concurrent loads of the same workspace share one fetch.
type WorkspaceCache struct {
	loader  WorkspaceLoader
	timeout time.Duration
	now     func() time.Time
	group   singleflight.Group

	mu       sync.Mutex
	entries  map[string]*cacheEntry
	selected string
}

func NewWorkspaceCache(loader WorkspaceLoader, timeout time.Duration) *WorkspaceCache {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &WorkspaceCache{
		loader:  loader,
		timeout: timeout,
		now:     time.Now,
		entries: map[string]*cacheEntry{},
	}
}

func (c *WorkspaceCache) State(id string) LoadState {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[id]; ok {
		return e.state
	}
	return NotStarted
}

// Select marks the session's active workspace.
func (c *WorkspaceCache) Select(id string) {
	c.mu.Lock()
	c.selected = id
	c.mu.Unlock()
}

func (c *WorkspaceCache) Selected() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.selected
}

// Invalidate drops the cached copy so the next Load fetches again.
func (c *WorkspaceCache) Invalidate(id string) {
	c.mu.Lock()
	delete(c.entries, id)
	c.mu.Unlock()
	c.group.Forget(id)
}

// Load returns the cached snapshot or fetches it. A failed or timed-out fetch returns the
// previous snapshot, if any, together with the error.
func (c *WorkspaceCache) Load(ctx context.Context, id string) (*Snapshot, error) {
	c.mu.Lock()
	e, ok := c.entries[id]
	if ok && e.state == Done {
		snap := e.snap
		c.mu.Unlock()
		return snap, nil
	}
	var stale *Snapshot
	if ok {
		stale = e.snap
	}
	c.entries[id] = &cacheEntry{state: InFlight, snap: stale}
	c.mu.Unlock()

	v, err, _ := c.group.Do(id, func() (interface{}, error) {
		return adapters.WithDeadline(ctx, "load workspace", c.timeout, func(ctx context.Context) (*Snapshot, error) {
			return c.fetch(ctx, id)
		})
	})

	c.mu.Lock()
	defer c.mu.Unlock()
	cur, ok := c.entries[id]
	if !ok {
		// Invalidated while loading; do not resurrect.
		cur = &cacheEntry{}
	}
	if err != nil {
		cur.state = Failed
		cur.err = err
		if ok {
			c.entries[id] = cur
		}
		return cur.snap, err
	}
	snap := v.(*Snapshot)
	if ok {
		cur.state = Done
		cur.snap = snap
		cur.err = nil
	}
	return snap, nil
}

func (c *WorkspaceCache) fetch(ctx context.Context, id string) (*Snapshot, error) {
	ws, err := c.loader.GetWorkspace(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load workspace: %w", err)
	}
	bp, err := c.loader.GetBrandProfile(ctx, id)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("load brand profile: %w", err)
	}
	return &Snapshot{Workspace: ws, BrandProfile: bp, LoadedAt: c.now()}, nil
}
