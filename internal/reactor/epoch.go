package reactor

// connID packs a file descriptor together with a monotonically
// incrementing per-fd epoch counter, so that if a closed fd number is
// reused for a brand new accept before every in-flight reference to the
// old connection has drained, the two are never confused (design §3:
// "reused fd number is acceptable as id so long as an epoch counter
// distinguishes reuses").
type connID uint64

func makeConnID(fd int, epoch uint32) connID {
	return connID(uint64(epoch)<<32 | uint64(uint32(fd)))
}

func (id connID) fd() int      { return int(uint32(id)) }
func (id connID) epoch() uint32 { return uint32(id >> 32) }
