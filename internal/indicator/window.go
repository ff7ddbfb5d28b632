package indicator

import "math"

// ring is a fixed-capacity FIFO of float64 values.
type ring struct {
	buf  []float64
	head int
	n    int
}

func newRing(capacity int) *ring { return &ring{buf: make([]float64, capacity)} }

// push appends x and returns the evicted value when the ring was full.
func (r *ring) push(x float64) (evicted float64, full bool) {
	if r.n < len(r.buf) {
		r.buf[(r.head+r.n)%len(r.buf)] = x
		r.n++
		return 0, false
	}
	evicted = r.buf[r.head]
	r.buf[r.head] = x
	r.head = (r.head + 1) % len(r.buf)
	return evicted, true
}

func (r *ring) len() int    { return r.n }
func (r *ring) ready() bool { return r.n == len(r.buf) }
func (r *ring) reset()      { r.head, r.n = 0, 0 }

// averager is the streaming state of one moving-average flavour.
type averager interface {
	add(x float64) (float64, bool)
	reset()
	required() int
}

// sma keeps a running sum over a ring.
type sma struct {
	period int
	win    *ring
	sum    float64
}

func newSMA(period int) *sma { return &sma{period: period, win: newRing(period)} }

func (s *sma) add(x float64) (float64, bool) {
	old, full := s.win.push(x)
	s.sum += x
	if full {
		s.sum -= old
	}
	if !s.win.ready() {
		return 0, false
	}
	return s.sum / float64(s.period), true
}

func (s *sma) reset()        { s.win.reset(); s.sum = 0 }
func (s *sma) required() int { return s.period }

// ema is seeded with the simple average of its first period values.
type ema struct {
	period int
	alpha  float64
	n      int
	seed   float64
	value  float64
}

func newEMA(period int) *ema {
	return &ema{period: period, alpha: 2 / float64(period+1)}
}

func (e *ema) add(x float64) (float64, bool) {
	if e.n < e.period {
		e.seed += x
		e.n++
		if e.n < e.period {
			return 0, false
		}
		e.value = e.seed / float64(e.period)
		return e.value, true
	}
	e.value += e.alpha * (x - e.value)
	return e.value, true
}

func (e *ema) reset()        { e.n, e.seed, e.value = 0, 0, 0 }
func (e *ema) required() int { return e.period }

// wma keeps the linearly weighted sum incrementally:
// W' = W + p·x − S, S' = S + x − evicted.
type wma struct {
	period int
	win    *ring
	sum    float64
	wsum   float64
}

func newWMA(period int) *wma { return &wma{period: period, win: newRing(period)} }

func (w *wma) add(x float64) (float64, bool) {
	if !w.win.ready() {
		w.win.push(x)
		w.wsum += float64(w.win.len()) * x
		w.sum += x
	} else {
		old, _ := w.win.push(x)
		w.wsum += float64(w.period)*x - w.sum
		w.sum += x - old
	}
	if !w.win.ready() {
		return 0, false
	}
	denom := float64(w.period*(w.period+1)) / 2
	return w.wsum / denom, true
}

func (w *wma) reset()        { w.win.reset(); w.sum, w.wsum = 0, 0 }
func (w *wma) required() int { return w.period }

// hma is WMA(2·WMA(n/2) − WMA(n), √n).
type hma struct {
	half, full, out *wma
	period          int
}

func newHMA(period int) *hma {
	half := period / 2
	if half < 1 {
		half = 1
	}
	root := int(math.Round(math.Sqrt(float64(period))))
	if root < 1 {
		root = 1
	}
	return &hma{half: newWMA(half), full: newWMA(period), out: newWMA(root), period: period}
}

func (h *hma) add(x float64) (float64, bool) {
	a, okA := h.half.add(x)
	b, okB := h.full.add(x)
	if !okA || !okB {
		return 0, false
	}
	return h.out.add(2*a - b)
}

func (h *hma) reset() { h.half.reset(); h.full.reset(); h.out.reset() }

func (h *hma) required() int { return h.period + h.out.period - 1 }

// wilder is Wilder's smoothing: a simple average for the first period values,
// then avg = (avg·(p−1) + x) / p.
type wilder struct {
	period int
	n      int
	value  float64
}

func (w *wilder) add(x float64) (float64, bool) {
	if w.n < w.period {
		w.value += x
		w.n++
		if w.n < w.period {
			return 0, false
		}
		w.value /= float64(w.period)
		return w.value, true
	}
	w.value = (w.value*float64(w.period-1) + x) / float64(w.period)
	return w.value, true
}

func (w *wilder) reset() { w.n, w.value = 0, 0 }

// extremum tracks the rolling max (or min) over a window with a monotonic
// deque, amortized O(1) per update.
type extremum struct {
	period int
	isMax  bool
	idx    int
	vals   []float64
	pos    []int
}

func newExtremum(period int, isMax bool) *extremum {
	return &extremum{period: period, isMax: isMax}
}

func (e *extremum) add(x float64) (float64, bool) {
	for len(e.vals) > 0 {
		last := e.vals[len(e.vals)-1]
		if (e.isMax && last <= x) || (!e.isMax && last >= x) {
			e.vals = e.vals[:len(e.vals)-1]
			e.pos = e.pos[:len(e.pos)-1]
			continue
		}
		break
	}
	e.vals = append(e.vals, x)
	e.pos = append(e.pos, e.idx)
	for e.pos[0] <= e.idx-e.period {
		e.vals = e.vals[1:]
		e.pos = e.pos[1:]
	}
	e.idx++
	if e.idx < e.period {
		return 0, false
	}
	return e.vals[0], true
}

func (e *extremum) reset() { e.idx = 0; e.vals = e.vals[:0]; e.pos = e.pos[:0] }

func clamp01(x float64) float64 {
	switch {
	case x < 0 || math.IsNaN(x):
		return 0
	case x > 1:
		return 1
	}
	return x
}
