package cursor

// ring is a fixed-capacity FIFO of distinct cursors. Not safe for concurrent use.
type ring struct {
	buf   []string
	head  int
	size  int
	index map[string]struct{}
}

func newRing(capacity int) *ring {
	return &ring{
		buf:   make([]string, capacity),
		index: make(map[string]struct{}, capacity),
	}
}

func (r *ring) capacity() int {
	return len(r.buf)
}

func (r *ring) len() int {
	return r.size
}

// push appends c, evicting the oldest entry when full.
func (r *ring) push(c string) bool {
	if _, dup := r.index[c]; dup {
		return false
	}
	if r.size == len(r.buf) {
		oldest := r.buf[r.head]
		delete(r.index, oldest)
		r.buf[r.head] = c
		r.head = (r.head + 1) % len(r.buf)
	} else {
		r.buf[(r.head+r.size)%len(r.buf)] = c
		r.size++
	}
	r.index[c] = struct{}{}
	return true
}

// at returns the i-th oldest entry.
func (r *ring) at(i int) string {
	return r.buf[(r.head+i)%len(r.buf)]
}

func (r *ring) items() []string {
	out := make([]string, r.size)
	for i := range out {
		out[i] = r.at(i)
	}
	return out
}

// sample returns up to n entries, deepest first.
func (r *ring) sample(n int, mode SampleMode) []string {
	if n <= 0 || r.size == 0 {
		return nil
	}
	if n > r.size {
		n = r.size
	}
	out := make([]string, 0, n)
	switch mode {
	case SampleSpread:
		// Indices (k+1)*size/n - 1 always include the tail.
		for k := n - 1; k >= 0; k-- {
			out = append(out, r.at((k+1)*r.size/n-1))
		}
	default:
		for i := r.size - 1; i >= r.size-n; i-- {
			out = append(out, r.at(i))
		}
	}
	return out
}
