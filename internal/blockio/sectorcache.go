package blockio

// noSectorCached is the sentinel tag value meaning "the buffer doesn't hold
// any sector right now."
const noSectorCached = ^uint32(0)

// SectorCache is a single-sector buffer keyed by absolute sector number,
// exactly one per handle (or per concurrent-operation context in
// multi-context mode). It exists to avoid redundant device reads when
// successive operations target the same sector -- the common case when
// walking a directory one 32-byte slot at a time, or doing an unaligned
// read-modify-write at the start or end of a file.
//
// Writes always go through to the device immediately; there is no deferred
// flush to lose track of.
type SectorCache struct {
	geometry *Geometry
	buffer   []byte
	tag      uint32
}

// NewSectorCache creates a SectorCache bound to the given geometry. The
// cache starts out empty (invalidated).
func NewSectorCache(geometry *Geometry) *SectorCache {
	return &SectorCache{
		geometry: geometry,
		buffer:   make([]byte, geometry.BytesPerSector),
		tag:      noSectorCached,
	}
}

// Read returns the cache's buffer containing the contents of the given
// sector. If the buffer already holds that sector, this is a no-op;
// otherwise it issues a device read and updates the tag.
func (c *SectorCache) Read(sector uint32) ([]byte, error) {
	if c.tag == sector {
		return c.buffer, nil
	}
	if err := c.geometry.ReadSector(sector, c.buffer); err != nil {
		c.Invalidate()
		return nil, err
	}
	c.tag = sector
	return c.buffer, nil
}

// Buffer returns the cache's backing buffer without touching the device.
// Callers that already called Read (or Write) for the sector they care
// about can mutate the returned slice in place before calling Write.
func (c *SectorCache) Buffer() []byte {
	return c.buffer
}

// Write writes the buffer's current contents through to the given sector
// and updates the tag to match. Higher layers are expected to have called
// Read (or to be writing a full sector from scratch) and mutated Buffer()
// in place before calling Write.
func (c *SectorCache) Write(sector uint32) error {
	if err := c.geometry.WriteSector(sector, c.buffer); err != nil {
		c.Invalidate()
		return err
	}
	c.tag = sector
	return nil
}

// Invalidate marks the cache as holding no sector. Any I/O error on Read or
// Write invalidates the cache, since the buffer's relationship to the tagged
// sector can no longer be trusted.
func (c *SectorCache) Invalidate() {
	c.tag = noSectorCached
}
