package delta

// Adler-32-style checksum, split out so the scan can update it
// incrementally instead of rehashing the window at every offset.
//
//	a = sum(x_i) mod M
//	b = sum((n-i) * x_i) mod M
//	sum = b<<16 | a

const adlerMod = 65521

type rolling struct {
	a, b uint32
	n    uint32 // window length
}

func newRolling(window []byte) rolling {
	var r rolling
	r.n = uint32(len(window))
	for i, c := range window {
		r.a = (r.a + uint32(c)) % adlerMod
		r.b = (r.b + uint32(len(window)-i)%adlerMod*uint32(c)) % adlerMod
	}
	return r
}

// roll slides the window one byte: out leaves at the front, in enters at
// the back. Window length stays constant.
//
//	a' = a - out + in
//	b' = b - n*out + a'
func (r *rolling) roll(out, in byte) {
	r.a = (r.a + adlerMod + uint32(in) - uint32(out)) % adlerMod
	sub := r.n % adlerMod * uint32(out) % adlerMod
	r.b = (r.b + adlerMod - sub + r.a) % adlerMod
}

func (r *rolling) sum() uint32 {
	return r.b<<16 | r.a
}

// weakHash computes the checksum of window from scratch; used for tail
// windows shorter than the block size.
func weakHash(window []byte) uint32 {
	r := newRolling(window)
	return r.sum()
}
