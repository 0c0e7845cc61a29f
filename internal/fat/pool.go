// Pool implements the multi-context concurrency model of §5: a fixed-size
// pool of per-operation contexts, each with its own SectorCache, plus the
// two mutexes (consistency and memory) that guard the FAT/FSInfo/directory
// structures and pool acquisition respectively. Grounded in spirit on the
// handle-owns-its-mutable-state shape of
// github.com/dargueta/disko/drivers/common/basedriver.CommonDriver (one
// struct holding everything a driver instance needs), since the teacher
// repo has no concurrency layer of its own to adapt more directly from.
package fat

import (
	"sync"

	"github.com/dargueta/fat32/internal/blockio"

	ferrors "github.com/dargueta/fat32/errors"
)

// Context is one concurrent operation's private I/O state: its own sector
// cache, so two goroutines running concurrently never clobber each other's
// cached sector.
type Context struct {
	Cache *blockio.SectorCache
}

// Pool hands out a fixed number of Contexts and serializes structural
// mutations to the shared FAT/directory state behind ConsistencyMutex.
//
// In single-context mode (size == 1) this degenerates to exactly the
// single-shared-buffer model described in §5: there is only ever one
// Context to acquire, so callers serialize themselves by construction.
type Pool struct {
	memoryMutex sync.Mutex
	available   []*Context

	// ConsistencyMutex guards the FAT table, FSInfo, and directory entry
	// mutations. Held for the duration of any write sequence: allocate,
	// free-chain, create/delete entry, rename.
	ConsistencyMutex sync.Mutex

	cond *sync.Cond
}

// NewPool creates a pool of `size` contexts, each with its own SectorCache
// bound to geometry.
func NewPool(geometry *blockio.Geometry, size uint) *Pool {
	if size == 0 {
		size = 1
	}

	p := &Pool{available: make([]*Context, 0, size)}
	for i := uint(0); i < size; i++ {
		p.available = append(p.available, &Context{Cache: blockio.NewSectorCache(geometry)})
	}
	p.cond = sync.NewCond(&p.memoryMutex)
	return p
}

// Acquire blocks until a Context is available, then returns it. Release
// must be called exactly once per successful Acquire.
func (p *Pool) Acquire() *Context {
	p.memoryMutex.Lock()
	defer p.memoryMutex.Unlock()

	for len(p.available) == 0 {
		p.cond.Wait()
	}

	last := len(p.available) - 1
	ctx := p.available[last]
	p.available = p.available[:last]
	return ctx
}

// Release returns a Context to the pool and wakes one waiter, if any.
func (p *Pool) Release(ctx *Context) {
	p.memoryMutex.Lock()
	ctx.Cache.Invalidate()
	p.available = append(p.available, ctx)
	p.memoryMutex.Unlock()
	p.cond.Signal()
}

// WithContext acquires a context, runs fn, and releases it even if fn
// panics or returns an error.
func (p *Pool) WithContext(fn func(*Context) error) error {
	ctx := p.Acquire()
	defer p.Release(ctx)
	return fn(ctx)
}

// WithWriteLock acquires a context and also holds ConsistencyMutex for the
// duration of fn, for operations that mutate the FAT table, FSInfo, or a
// directory's entry sequence.
func (p *Pool) WithWriteLock(fn func(*Context) error) error {
	ctx := p.Acquire()
	defer p.Release(ctx)

	p.ConsistencyMutex.Lock()
	defer p.ConsistencyMutex.Unlock()
	return fn(ctx)
}

// checkClosed is a small guard shared by the public handle types; it's
// trivial enough to not warrant its own file.
func checkClosed(closed bool) error {
	if closed {
		return ferrors.ErrClosed
	}
	return nil
}
