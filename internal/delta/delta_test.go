package delta

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateDiffRoundTrip(t *testing.T) {
	tests := []struct {
		name      string
		original  []byte
		modified  []byte
		blockSize int
	}{
		{"identical", []byte("AAAABBBBCCCC"), []byte("AAAABBBBCCCC"), 4},
		{"tail replaced", []byte("AAAABBBBCCCC"), []byte("AAAABBBBDDDD"), 4},
		{"middle insert", []byte("AAAABBBBCCCC"), []byte("AAAAXXBBBBCCCC"), 4},
		{"prefix removed", []byte("AAAABBBBCCCC"), []byte("BBBBCCCC"), 4},
		{"no common blocks", []byte("AAAABBBB"), []byte("XXXXYYYY"), 4},
		{"empty original", nil, []byte("XXXXYYYY"), 4},
		{"empty modified", []byte("AAAABBBB"), nil, 4},
		{"both empty", nil, nil, 4},
		{"short tail block", []byte("AAAABB"), []byte("AAAABBX"), 4},
		{"modified shorter than block", []byte("AAAABBBB"), []byte("AB"), 4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			diff := CreateDiff(tt.original, tt.modified, tt.blockSize)
			require.Equal(t, len(tt.original), diff.OriginalSize)
			require.Equal(t, len(tt.modified), diff.ModifiedSize)

			out, err := Apply(tt.original, diff)
			require.NoError(t, err)
			assert.Equal(t, tt.modified, out)
		})
	}
}

func TestCreateDiffLargeBuffers(t *testing.T) {
	original := make([]byte, 64*1024)
	for i := range original {
		original[i] = byte(i * 31)
	}

	// Mutate a single block's worth of bytes in the middle.
	modified := make([]byte, len(original))
	copy(modified, original)
	for i := 20000; i < 20100; i++ {
		modified[i] ^= 0xFF
	}

	diff := CreateDiff(original, modified, DefaultBlockSize)
	out, err := Apply(original, diff)
	require.NoError(t, err)
	assert.True(t, bytes.Equal(modified, out))

	// Most of the buffer is unchanged, so the diff should be far cheaper
	// than a full transfer.
	assert.Greater(t, diff.Ratio(), 0.5)
}

func TestCreateDiffCoalescesAdjacentCopies(t *testing.T) {
	diff := CreateDiff([]byte("AAAABBBBCCCC"), []byte("AAAABBBBDDDD"), 4)

	require.Len(t, diff.Patches, 2)

	assert.Equal(t, PatchCopy, diff.Patches[0].Kind)
	assert.Equal(t, 0, diff.Patches[0].Offset)
	assert.Equal(t, 0, diff.Patches[0].SourceOffset)
	assert.Equal(t, 8, diff.Patches[0].Length)

	assert.Equal(t, PatchLiteral, diff.Patches[1].Kind)
	assert.Equal(t, 8, diff.Patches[1].Offset)
	assert.Equal(t, []byte("DDDD"), diff.Patches[1].Bytes)
}

func TestCreateDiffDeterministic(t *testing.T) {
	original := []byte("AAAABBBBAAAABBBBCCCC")
	modified := []byte("BBBBAAAAXXXXAAAABBBB")

	first := CreateDiff(original, modified, 4)
	for i := 0; i < 5; i++ {
		assert.Equal(t, first, CreateDiff(original, modified, 4))
	}
}

func TestCreateDiffDefaultBlockSize(t *testing.T) {
	original := bytes.Repeat([]byte("x"), 2*DefaultBlockSize)
	diff := CreateDiff(original, original, 0)

	out, err := Apply(original, diff)
	require.NoError(t, err)
	assert.Equal(t, original, out)
}

func TestRatio(t *testing.T) {
	t.Run("empty modified", func(t *testing.T) {
		diff := CreateDiff([]byte("AAAA"), nil, 4)
		assert.Equal(t, 0.0, diff.Ratio())
	})

	t.Run("all literal costs more than full transfer", func(t *testing.T) {
		diff := CreateDiff(nil, []byte("XXXXYYYY"), 4)
		assert.Less(t, diff.Ratio(), 0.0)
	})

	t.Run("single copy of a large buffer", func(t *testing.T) {
		buf := bytes.Repeat([]byte("z"), 4096)
		diff := CreateDiff(buf, buf, 4096)
		require.Len(t, diff.Patches, 1)
		// One copy patch: 1 - 16/4096.
		assert.InDelta(t, 1-16.0/4096.0, diff.Ratio(), 1e-9)
	})
}

func TestApplyRejectsMalformedScripts(t *testing.T) {
	original := []byte("AAAABBBB")

	t.Run("offset gap", func(t *testing.T) {
		_, err := Apply(original, &Result{
			ModifiedSize: 4,
			Patches:      []Patch{{Kind: PatchLiteral, Offset: 2, Bytes: []byte("XXXX")}},
		})
		assert.Error(t, err)
	})

	t.Run("copy out of range", func(t *testing.T) {
		_, err := Apply(original, &Result{
			ModifiedSize: 8,
			Patches:      []Patch{{Kind: PatchCopy, Offset: 0, SourceOffset: 4, Length: 8}},
		})
		assert.Error(t, err)
	})

	t.Run("unknown kind", func(t *testing.T) {
		_, err := Apply(original, &Result{
			ModifiedSize: 4,
			Patches:      []Patch{{Kind: "swap", Offset: 0, Length: 4}},
		})
		assert.Error(t, err)
	})

	t.Run("size mismatch", func(t *testing.T) {
		_, err := Apply(original, &Result{
			ModifiedSize: 10,
			Patches:      []Patch{{Kind: PatchCopy, Offset: 0, SourceOffset: 0, Length: 8}},
		})
		assert.Error(t, err)
	})
}

func TestRollingMatchesRecompute(t *testing.T) {
	data := []byte("the quick brown fox jumps over the lazy dog")
	const window = 8

	r := newRolling(data[:window])
	assert.Equal(t, weakHash(data[:window]), r.sum())

	for pos := 1; pos+window <= len(data); pos++ {
		r.roll(data[pos-1], data[pos+window-1])
		assert.Equal(t, weakHash(data[pos:pos+window]), r.sum(), "window at %d", pos)
	}
}
