package vid

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// 任意numChunks个share都能还原出原始数据
func TestDisperseRecoverFromAnySubset(t *testing.T) {
	testCases := []struct {
		name    string
		chunks  int
		nodes   int
		payload []byte
	}{
		{"4 nodes", 3, 4, []byte("hello vid dispersal")},
		{"7 nodes", 5, 7, bytes.Repeat([]byte("abcdefg"), 100)},
		{"empty payload", 3, 4, []byte{}},
		{"single node", 1, 1, []byte("x")},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			scheme, err := NewScheme(tc.chunks, tc.nodes)
			require.NoError(t, err)

			d, err := scheme.Disperse(tc.payload)
			require.NoError(t, err)
			require.Len(t, d.Shares, scheme.NumShares())

			for _, subset := range subsets(scheme.NumShares(), tc.chunks) {
				picked := make([]Share, 0, len(subset))
				for _, i := range subset {
					picked = append(picked, d.Shares[i])
				}
				got, err := scheme.Recover(picked, d.Common, d.Commitment)
				require.NoError(t, err, "subset %v", subset)
				assert.Equal(t, len(tc.payload), len(got))
				assert.True(t, bytes.Equal(tc.payload, got), "subset %v", subset)
			}
		})
	}
}

func TestRecoverNotEnoughShares(t *testing.T) {
	scheme, err := NewScheme(3, 4)
	require.NoError(t, err)
	d, err := scheme.Disperse([]byte("payload"))
	require.NoError(t, err)

	_, err = scheme.Recover(d.Shares[:2], d.Common, d.Commitment)
	assert.Equal(t, ErrNotEnoughShares, err)

	// 重复的share不计数
	_, err = scheme.Recover([]Share{d.Shares[0], d.Shares[0], d.Shares[1]}, d.Common, d.Commitment)
	assert.Equal(t, ErrNotEnoughShares, err)
}

func TestVerifyShare(t *testing.T) {
	scheme, err := NewScheme(3, 4)
	require.NoError(t, err)
	d, err := scheme.Disperse([]byte("payload"))
	require.NoError(t, err)

	for _, share := range d.Shares {
		assert.NoError(t, scheme.VerifyShare(share, d.Common, d.Commitment))
	}

	tampered := d.Shares[1]
	tampered.Data = append([]byte{}, tampered.Data...)
	tampered.Data[0] ^= 0xff
	assert.ErrorIs(t, scheme.VerifyShare(tampered, d.Common, d.Commitment), ErrInvalidShare)

	other, err := scheme.Disperse([]byte("another payload"))
	require.NoError(t, err)
	assert.ErrorIs(t, scheme.VerifyShare(d.Shares[0], d.Common, other.Commitment), ErrInvalidShare)

	// 被篡改的share在还原时被跳过
	shares := []Share{tampered, d.Shares[0], d.Shares[2], d.Shares[3]}
	got, err := scheme.Recover(shares, d.Common, d.Commitment)
	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), got)
}

func TestDisperseIsDeterministic(t *testing.T) {
	scheme, err := NewScheme(3, 4)
	require.NoError(t, err)
	a, err := scheme.Disperse([]byte("same"))
	require.NoError(t, err)
	b, err := scheme.Disperse([]byte("same"))
	require.NoError(t, err)
	assert.Equal(t, a.Commitment, b.Commitment)
}

func TestNewSchemeInvalidParams(t *testing.T) {
	_, err := NewScheme(0, 4)
	assert.ErrorIs(t, err, ErrInvalidSchemeParams)
	_, err = NewScheme(3, 0)
	assert.ErrorIs(t, err, ErrInvalidSchemeParams)
}

// subsets enumerates all k-subsets of [0, n).
func subsets(n, k int) [][]int {
	var out [][]int
	var rec func(start int, cur []int)
	rec = func(start int, cur []int) {
		if len(cur) == k {
			out = append(out, append([]int(nil), cur...))
			return
		}
		for i := start; i < n; i++ {
			rec(i+1, append(cur, i))
		}
	}
	rec(0, nil)
	return out
}
