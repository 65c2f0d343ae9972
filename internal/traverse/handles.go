package traverse

import (
	"errors"
	"io"
	"io/fs"
	"os"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

// readBatch is how many dirents are pulled per underlying getdents call.
const readBatch = 256

// handleReserve is how much RLIMIT_NOFILE headroom is left for std streams,
// output files and anything spawned per entry.
const handleReserve = 64

// maxHandleBudget caps the derived budget. RLIMIT_NOFILE may be unlimited
// or absurdly high, and the cache should stay a cache, not a handle per
// directory in the tree.
const maxHandleBudget = 4096

// defaultHandleBudget derives the directory handle budget from the
// process's descriptor limit.
func defaultHandleBudget() int {
	var rl unix.Rlimit
	soft := uint64(1024)
	if err := unix.Getrlimit(unix.RLIMIT_NOFILE, &rl); err == nil {
		soft = uint64(rl.Cur)
	}
	return budgetFromLimit(soft)
}

// budgetFromLimit converts a soft descriptor limit, RLIM_INFINITY
// included, into a handle budget.
func budgetFromLimit(soft uint64) int {
	if soft > maxHandleBudget {
		soft = maxHandleBudget
	}
	budget := int(soft) - handleReserve
	if budget < 8 {
		budget = 8
	}
	return budget
}

// dirHandle is an open directory owned by the handle cache. The driver
// only borrows it, between acquire and release, for one enumeration step
// or one relative open/stat.
type dirHandle struct {
	node *node
	file *os.File
	seq  uint64 // last-used stamp
	pins int    // borrow count; only idle (pins == 0) handles may be evicted
	pos  int    // dirents this open file has consumed, including skipped ones
	buf  []fs.DirEntry
}

func (h *dirHandle) fd() int {
	return int(h.file.Fd())
}

// handleCache owns every open directory handle and enforces the descriptor
// budget. Handles are reopened relative to the nearest ancestor handle
// still open; the cache never re-resolves a full path except for roots.
type handleCache struct {
	budget int
	open   map[*node]*dirHandle
	seq    uint64
	log    *zap.Logger
	stats  *Stats
}

func newHandleCache(budget int, log *zap.Logger, stats *Stats) *handleCache {
	if budget < 1 {
		budget = defaultHandleBudget()
	}
	return &handleCache{
		budget: budget,
		open:   make(map[*node]*dirHandle),
		log:    log,
		stats:  stats,
	}
}

// acquire returns an open, pinned handle for n, reusing a cached one or
// opening a fresh one relative to n's parent. Ancestors evicted earlier
// are reacquired recursively, bounded by tree depth.
func (c *handleCache) acquire(n *node) (*dirHandle, error) {
	c.stats.HandleAcquires++
	if h, ok := c.open[n]; ok {
		h.pins++
		c.touch(h)
		return h, nil
	}

	fd, err := c.openNode(n)
	if err != nil {
		return nil, err
	}

	h := &dirHandle{
		node: n,
		file: os.NewFile(uintptr(fd), n.path),
		pins: 1,
	}
	c.touch(h)
	c.open[n] = h
	c.stats.HandleOpens++
	c.trim()
	if len(c.open) > c.stats.PeakOpenHandles {
		c.stats.PeakOpenHandles = len(c.open)
	}
	c.log.Debug("opened directory", zap.String("path", n.path), zap.Int("open", len(c.open)))
	return h, nil
}

// openNode opens a directory descriptor for n without inserting it into
// the cache.
func (c *handleCache) openNode(n *node) (int, error) {
	flags := unix.O_RDONLY | unix.O_DIRECTORY | unix.O_CLOEXEC
	if !n.viaLink {
		flags |= unix.O_NOFOLLOW
	}

	if n.parent == nil {
		return c.retryOpen(func() (int, error) {
			return unix.Open(n.path, flags, 0)
		}, n.path)
	}

	ph, err := c.acquire(n.parent)
	if err != nil {
		return -1, err
	}
	defer c.release(ph)

	// Leave room for the new descriptor before opening it. Everything
	// pinned stays; with a tiny budget the cache may briefly run one
	// handle over while the parent is borrowed.
	c.makeRoom()

	return c.retryOpen(func() (int, error) {
		return unix.Openat(ph.fd(), n.name, flags, 0)
	}, n.path)
}

// retryOpen runs an open, evicting one idle handle and retrying if the
// process is out of descriptors. A second failure with nothing left to
// evict is a budget exhaustion error.
func (c *handleCache) retryOpen(open func() (int, error), path string) (int, error) {
	fd, err := open()
	if err == unix.EMFILE || err == unix.ENFILE {
		if c.evictOne() {
			fd, err = open()
		}
		if err == unix.EMFILE || err == unix.ENFILE {
			return -1, newError(KindHandleExhausted, path, err)
		}
	}
	return fd, err
}

// release marks a handle idle, eligible for eviction but not closed.
func (c *handleCache) release(h *dirHandle) {
	if h.pins > 0 {
		h.pins--
	}
}

// evictOne closes the least-recently-used idle handle.
func (c *handleCache) evictOne() bool {
	var victim *dirHandle
	for _, h := range c.open {
		if h.pins > 0 {
			continue
		}
		if victim == nil || h.seq < victim.seq {
			victim = h
		}
	}
	if victim == nil {
		return false
	}
	delete(c.open, victim.node)
	victim.file.Close()
	c.stats.HandleEvictions++
	c.log.Debug("evicted directory handle", zap.String("path", victim.node.path))
	return true
}

func (c *handleCache) makeRoom() {
	for len(c.open) >= c.budget {
		if !c.evictOne() {
			return
		}
	}
}

func (c *handleCache) trim() {
	for len(c.open) > c.budget {
		if !c.evictOne() {
			return
		}
	}
}

// readNext returns the next unconsumed entry of h's directory, or nil at
// the end. A handle reopened after eviction skips the entries the node
// already consumed, so enumeration resumes where it left off.
func (c *handleCache) readNext(h *dirHandle) (fs.DirEntry, error) {
	n := h.node
	if n.exhausted {
		return nil, nil
	}
	for {
		if len(h.buf) == 0 {
			ents, err := h.file.ReadDir(readBatch)
			if err != nil && !errors.Is(err, io.EOF) {
				return nil, err
			}
			if len(ents) == 0 {
				n.exhausted = true
				return nil, nil
			}
			h.buf = ents
		}
		e := h.buf[0]
		h.buf = h.buf[1:]
		h.pos++
		if h.pos <= n.consumed {
			continue // consumed before this handle was reopened
		}
		n.consumed = h.pos
		return e, nil
	}
}

func (c *handleCache) touch(h *dirHandle) {
	c.seq++
	h.seq = c.seq
}

// closeAll drops every handle, pinned or not. Only called when the walk
// is unwinding.
func (c *handleCache) closeAll() {
	for n, h := range c.open {
		h.file.Close()
		delete(c.open, n)
	}
}
