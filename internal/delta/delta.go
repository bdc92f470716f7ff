// Package delta implements a block-based binary diff/patch codec in the
// rsync style: the original buffer is indexed by block checksums, the
// modified buffer is scanned for matching blocks, and the result is a
// minimal edit script of literal bytes and copy instructions.
package delta

import (
	"bytes"
	"crypto/sha256"
	"fmt"
)

// DefaultBlockSize is the reference block size used when callers pass a
// non-positive size to CreateDiff.
const DefaultBlockSize = 4096

// patchOverhead is the fixed per-patch cost used by the compression ratio.
const patchOverhead = 16

// PatchKind tags a patch instruction.
type PatchKind string

const (
	PatchLiteral PatchKind = "literal"
	PatchCopy    PatchKind = "copy"
)

// Patch is one instruction of the edit script. A Literal writes Bytes at
// Offset of the output; a Copy writes Length bytes taken from SourceOffset
// of the original buffer.
type Patch struct {
	Kind         PatchKind `json:"kind"`
	Offset       int       `json:"offset"`
	Bytes        []byte    `json:"bytes,omitempty"`
	SourceOffset int       `json:"source_offset,omitempty"`
	Length       int       `json:"length,omitempty"`
}

// Result is the full edit script transforming an original buffer into a
// modified one. Patches are ordered by increasing Offset and replaying them
// in order reconstructs exactly ModifiedSize bytes.
type Result struct {
	OriginalSize int     `json:"original_size"`
	ModifiedSize int     `json:"modified_size"`
	Patches      []Patch `json:"patches"`
}

// Ratio estimates how much transfer the diff saves over sending the full
// modified buffer: 1 - (patch cost / modified size). Whether a given ratio
// makes diff transfer worthwhile is the caller's policy, not the codec's.
func (r *Result) Ratio() float64 {
	if r.ModifiedSize == 0 {
		return 0
	}
	cost := 0
	for _, p := range r.Patches {
		cost += patchOverhead
		if p.Kind == PatchLiteral {
			cost += len(p.Bytes)
		}
	}
	return 1 - float64(cost)/float64(r.ModifiedSize)
}

// block is one fixed-size slice of the original buffer.
type block struct {
	offset int
	size   int
	strong [sha256.Size]byte
}

// CreateDiff computes the edit script transforming original into modified.
// blockSize <= 0 selects DefaultBlockSize. The function is pure: identical
// inputs always produce identical patch sequences.
func CreateDiff(original, modified []byte, blockSize int) *Result {
	if blockSize <= 0 {
		blockSize = DefaultBlockSize
	}

	result := &Result{
		OriginalSize: len(original),
		ModifiedSize: len(modified),
	}
	if len(modified) == 0 {
		return result
	}

	// Index the original's blocks by weak hash. Candidates keep insertion
	// order so the first strong-hash match is deterministic.
	index := make(map[uint32][]block)
	for off := 0; off < len(original); off += blockSize {
		end := off + blockSize
		if end > len(original) {
			end = len(original)
		}
		b := block{
			offset: off,
			size:   end - off,
			strong: sha256.Sum256(original[off:end]),
		}
		w := weakHash(original[off:end])
		index[w] = append(index[w], b)
	}

	var (
		pos          int // scan position in modified
		literalStart int // start of the unmatched run
		roll         rolling
		rollValid    bool
	)

	flushLiteral := func(end int) {
		if end > literalStart {
			lit := make([]byte, end-literalStart)
			copy(lit, modified[literalStart:end])
			result.Patches = append(result.Patches, Patch{
				Kind:   PatchLiteral,
				Offset: literalStart,
				Bytes:  lit,
			})
		}
	}

	for pos < len(modified) {
		end := pos + blockSize
		if end > len(modified) {
			end = len(modified)
		}
		window := modified[pos:end]

		var w uint32
		if len(window) == blockSize {
			if rollValid {
				// Incremental update: drop the byte that left the window,
				// add the one that entered.
				roll.roll(modified[pos-1], window[len(window)-1])
			} else {
				roll = newRolling(window)
				rollValid = true
			}
			w = roll.sum()
		} else {
			// Shrinking tail windows are recomputed directly.
			w = weakHash(window)
		}

		matched := false
		if candidates, ok := index[w]; ok {
			strong := sha256.Sum256(window)
			for _, cand := range candidates {
				if cand.size == len(window) && cand.strong == strong {
					flushLiteral(pos)
					appendCopy(result, Patch{
						Kind:         PatchCopy,
						Offset:       pos,
						SourceOffset: cand.offset,
						Length:       cand.size,
					})
					pos += cand.size
					literalStart = pos
					rollValid = false
					matched = true
					break
				}
			}
		}
		if !matched {
			pos++
		}
	}

	flushLiteral(len(modified))
	return result
}

// appendCopy emits a copy patch, coalescing it with the previous patch when
// both source and destination are contiguous.
func appendCopy(result *Result, p Patch) {
	if n := len(result.Patches); n > 0 {
		last := &result.Patches[n-1]
		if last.Kind == PatchCopy &&
			last.Offset+last.Length == p.Offset &&
			last.SourceOffset+last.Length == p.SourceOffset {
			last.Length += p.Length
			return
		}
	}
	result.Patches = append(result.Patches, p)
}

// Apply replays the edit script against original and returns the
// reconstructed modified buffer.
func Apply(original []byte, diff *Result) ([]byte, error) {
	out := bytes.NewBuffer(make([]byte, 0, diff.ModifiedSize))

	for i, p := range diff.Patches {
		if p.Offset != out.Len() {
			return nil, fmt.Errorf("patch %d: offset %d does not match output position %d", i, p.Offset, out.Len())
		}
		switch p.Kind {
		case PatchLiteral:
			out.Write(p.Bytes)
		case PatchCopy:
			if p.SourceOffset < 0 || p.Length < 0 || p.SourceOffset+p.Length > len(original) {
				return nil, fmt.Errorf("patch %d: copy [%d:%d] out of range for original of %d bytes",
					i, p.SourceOffset, p.SourceOffset+p.Length, len(original))
			}
			out.Write(original[p.SourceOffset : p.SourceOffset+p.Length])
		default:
			return nil, fmt.Errorf("patch %d: unknown kind %q", i, p.Kind)
		}
	}

	if out.Len() != diff.ModifiedSize {
		return nil, fmt.Errorf("reconstructed %d bytes, expected %d", out.Len(), diff.ModifiedSize)
	}
	return out.Bytes(), nil
}
