package recorder

// aggregator groups timeslice buffers into chunks of a fixed size. A zero
// threshold never completes a group on its own; everything is drained at stop.
type aggregator struct {
	threshold int
	buffers   [][]byte
}

// push appends one buffer and returns the completed group, if any.
func (a *aggregator) push(buf []byte) [][]byte {
	a.buffers = append(a.buffers, buf)
	if a.threshold <= 0 || len(a.buffers) < a.threshold {
		return nil
	}
	group := a.buffers
	a.buffers = nil
	return group
}

// drain returns the unflushed buffers, or nil when there are none.
func (a *aggregator) drain() [][]byte {
	if len(a.buffers) == 0 {
		return nil
	}
	group := a.buffers
	a.buffers = nil
	return group
}

func concat(group [][]byte) []byte {
	size := 0
	for _, b := range group {
		size += len(b)
	}
	out := make([]byte, 0, size)
	for _, b := range group {
		out = append(out, b...)
	}
	return out
}
