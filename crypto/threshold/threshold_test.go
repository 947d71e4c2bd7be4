package threshold

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecoverFromThresholdShares(t *testing.T) {
	n, th := 4, 3
	dealer := Master(1, th, n)
	msg := []byte("view 9")

	sigs := make([][]byte, 0, n)
	for i := 0; i < n; i++ {
		sig, err := Sign(dealer.Share(i), msg)
		require.NoError(t, err)
		require.NoError(t, VerifyShare(dealer.PubPoly(), msg, sig))
		idx, err := ShareIndex(sig)
		require.NoError(t, err)
		assert.Equal(t, i, idx)
		sigs = append(sigs, sig)
	}

	full, err := Recover(dealer.PubPoly(), msg, sigs[1:], th, n)
	require.NoError(t, err)
	assert.NoError(t, Verify(dealer.PubPoly(), msg, full))

	other, err := Recover(dealer.PubPoly(), msg, sigs[:th], th, n)
	require.NoError(t, err)
	assert.Equal(t, full, other, "任意t个share还原出的签名应该一致")

	assert.Error(t, Verify(dealer.PubPoly(), []byte("view 10"), full))
}

func TestMasterIsDeterministic(t *testing.T) {
	a := Master(7, 3, 4)
	b := Master(7, 3, 4)
	assert.True(t, a.PubPoly().Commit().Equal(b.PubPoly().Commit()))

	c := Master(8, 3, 4)
	assert.False(t, a.PubPoly().Commit().Equal(c.PubPoly().Commit()))
}

func TestEncodeDecode(t *testing.T) {
	dealer := Master(3, 2, 3)

	bz, err := EncodeShare(dealer.Share(2))
	require.NoError(t, err)
	priv, err := DecodeShare(bz)
	require.NoError(t, err)
	assert.Equal(t, 2, priv.I)
	assert.True(t, priv.V.Equal(dealer.Share(2).V))

	commits, err := EncodePubPoly(dealer.PubPoly())
	require.NoError(t, err)
	pub, err := DecodePubPoly(commits)
	require.NoError(t, err)
	assert.True(t, pub.Equal(dealer.PubPoly()))

	_, err = DecodeShare([]byte{1})
	assert.Equal(t, ErrInvalidShare, err)
}
