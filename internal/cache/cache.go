// internal/cache/cache.go

// Package cache holds the most recent contents of storage blocks so the
// file system can skip a bus round trip on re-reads.
package cache

import (
	"errors"

	"github.com/rs/zerolog"

	"github.com/tamzrod/busfs/internal/register"
)

// line is one cached block: key, payload, recency stamp.
type line struct {
	valid  bool
	device uint8
	sector uint16
	block  uint16
	stamp  int64
	data   [register.BlockSize]byte
}

// Cache is a fixed-capacity least-recently-used block cache.
//
// Recency is a logical clock advanced on every lookup and insert, not
// wall time. Both operations scan all lines; capacity is small and
// fixed, so the linear cost is part of the design.
type Cache struct {
	lines  []line
	clock  int64
	hits   int64
	misses int64
	log    zerolog.Logger
}

// Stats are the cumulative lookup counters of a cache.
type Stats struct {
	Hits   int64
	Misses int64
}

// Ratio is hits over total lookups, 0 when nothing was looked up.
func (s Stats) Ratio() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

// New allocates a cache with the given number of lines.
func New(lines int, log zerolog.Logger) (*Cache, error) {
	if lines <= 0 {
		return nil, errors.New("cache: at least one line required")
	}
	c := &Cache{
		lines: make([]line, lines),
		log:   log,
	}
	// Stamps must sort below any real clock value.
	for i := range c.lines {
		c.lines[i].stamp = -1
	}
	return c, nil
}

// Lookup returns the cached payload for a block, or nil on a miss.
// A hit refreshes the line's recency. The returned slice aliases the
// line and is valid until the next Insert.
func (c *Cache) Lookup(device uint8, sector, block uint16) []byte {
	c.clock++

	for i := range c.lines {
		l := &c.lines[i]
		if l.valid && l.device == device && l.sector == sector && l.block == block {
			c.hits++
			l.stamp = c.clock
			return l.data[:]
		}
	}

	c.misses++
	return nil
}

// Insert stores a block payload, replacing the line that already holds
// this key, or failing that the least recently used line.
func (c *Cache) Insert(device uint8, sector, block uint16, data []byte) {
	c.clock++

	victim := 0
	victimStamp := c.clock
	for i := range c.lines {
		l := &c.lines[i]
		if l.valid && l.device == device && l.sector == sector && l.block == block {
			victim = i
			break
		}
		if l.stamp < victimStamp {
			victim = i
			victimStamp = l.stamp
		}
	}

	l := &c.lines[victim]
	l.valid = true
	l.device = device
	l.sector = sector
	l.block = block
	l.stamp = c.clock
	copy(l.data[:], data)
}

// Stats reports the cumulative hit/miss counters.
func (c *Cache) Stats() Stats {
	return Stats{Hits: c.hits, Misses: c.misses}
}

// Close releases the lines and logs the cumulative statistics.
func (c *Cache) Close() Stats {
	st := c.Stats()
	c.lines = nil

	c.log.Info().
		Int64("hits", st.Hits).
		Int64("misses", st.Misses).
		Float64("ratio", st.Ratio()).
		Msg("cache closed")

	return st
}
