// evictor.go houses the idle sweep for ConnCache.  Every sweep interval it
// walks the recency list from the back and removes clients idle longer than
// idleTTL.  Capacity pressure is handled inline by store, so the list never
// exceeds capacity between sweeps.
//
// Each eviction is logged and counted in Prometheus.
package tenant

import (
	"time"

	"github.com/yanizio/tenantdb/internal/metrics"
)

func (c *ConnCache) evictLoop(interval time.Duration) {
	defer close(c.done)

	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		select {
		case <-c.stop:
			return
		case now := <-t.C:
			c.sweep(now)
		}
	}
}

// sweep evicts every entry whose last use is older than idleTTL at now and
// returns how many were removed.
func (c *ConnCache) sweep(now time.Time) int {
	cutoff := now.Add(-c.idleTTL)

	c.mu.Lock()
	var victims []*Conn
	for el := c.ll.Back(); el != nil; {
		conn := el.Value.(*Conn)
		if !conn.LastUsed().Before(cutoff) {
			break // recency order: everything in front is newer
		}
		prev := el.Prev()
		victims = append(victims, conn)
		c.removeLocked(el)
		el = prev
	}
	c.mu.Unlock()

	for _, v := range victims {
		c.closeConn(v, metrics.ReasonIdle)
	}
	return len(victims)
}
