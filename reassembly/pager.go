package reassembly

// pageBytes mirrors the page size HoneyBadger's ordered_coalesce.go used
// for out-of-order TCP byte buffering; kept as the size class for this
// package's scratch buffers so repeated MSP reassembly doesn't churn the
// allocator on the hot per-packet path.
const pageBytes = 1900

// page is a single reusable scratch buffer. Unlike ordered_coalesce.go's
// page, it carries no linked-list pointers: spec §5 mandates strictly
// sequential single-threaded processing, so there's no concurrent
// traversal to support and no need for the doubly-linked page chain the
// teacher used to stitch arbitrarily-sized runs together.
type page struct {
	buf []byte
}

// pageCache is a concurrency-unsafe free list of pages, grown on demand and
// never shrunk -- the same policy ordered_coalesce.go's pageCache used,
// simplified from its channel-fed goroutine form (not applicable here) to
// direct calls.
type pageCache struct {
	free []*page
}

const initialPoolSize = 64

func newPageCache() *pageCache {
	pc := &pageCache{free: make([]*page, 0, initialPoolSize)}
	pc.grow()
	return pc
}

func (c *pageCache) grow() {
	batch := make([]page, initialPoolSize)
	for i := range batch {
		batch[i].buf = make([]byte, 0, pageBytes)
		c.free = append(c.free, &batch[i])
	}
}

// get returns a zero-length, pageBytes-capacity scratch buffer.
func (c *pageCache) get() *page {
	if len(c.free) == 0 {
		c.grow()
	}
	p := c.free[len(c.free)-1]
	c.free = c.free[:len(c.free)-1]
	p.buf = p.buf[:0]
	return p
}

// put returns p to the free list for reuse.
func (c *pageCache) put(p *page) {
	c.free = append(c.free, p)
}
