package near

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/mr-tron/base58"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// RFC 8032 test vector 1
const (
	rfcSeed   = "BbMQkQYZspmkytduTWvXEtc4mMURjsekJDvty2WtKeSb"
	rfcPublic = "ed25519:FVen3X669xLzsi6N2V91DoiyzHzg1uAgqiT8jZ9nS96Z"
	rfcSecret = "ed25519:49W385L4rePHy6PAaQUovbD2aacgN4HsKXSMeUzRg4fmwXszN91JuMFrQRj3vMDpZuRF3ZknQBuRBoWQJEfXstMw"
)

func TestKeyPairFromSeed_KnownVector(t *testing.T) {
	seed, err := base58.Decode(rfcSeed)
	require.NoError(t, err)

	kp, err := KeyPairFromSeed(seed)
	require.NoError(t, err)
	assert.Equal(t, rfcPublic, kp.PublicKey().String())
	assert.Equal(t, rfcSecret, kp.String())

	zero, err := KeyPairFromSeed(make([]byte, 32))
	require.NoError(t, err)
	assert.Equal(t, "ed25519:4zvwRjXUKGfvwnParsHAS3HuSVzV5cA4McphgmoCtajS", zero.PublicKey().String())
}

func TestKeyPairFromSeed_BadLength(t *testing.T) {
	_, err := KeyPairFromSeed(make([]byte, 31))
	assert.ErrorIs(t, err, ErrInvalidKey)
}

func TestKeyPairFromString(t *testing.T) {
	t.Run("expanded secret", func(t *testing.T) {
		kp, err := KeyPairFromString(rfcSecret)
		require.NoError(t, err)
		assert.Equal(t, rfcPublic, kp.PublicKey().String())
	})

	t.Run("seed only", func(t *testing.T) {
		kp, err := KeyPairFromString("ed25519:" + rfcSeed)
		require.NoError(t, err)
		assert.Equal(t, rfcPublic, kp.PublicKey().String())
		assert.Equal(t, rfcSecret, kp.String())
	})

	t.Run("no prefix", func(t *testing.T) {
		kp, err := KeyPairFromString(rfcSeed)
		require.NoError(t, err)
		assert.Equal(t, rfcPublic, kp.PublicKey().String())
	})

	t.Run("mismatched public half", func(t *testing.T) {
		seed, _ := base58.Decode(rfcSeed)
		raw := append(append([]byte(nil), seed...), bytes.Repeat([]byte{1}, 32)...)
		_, err := KeyPairFromString("ed25519:" + base58.Encode(raw))
		assert.ErrorIs(t, err, ErrInvalidKey)
	})

	t.Run("unsupported curve", func(t *testing.T) {
		_, err := KeyPairFromString("secp256k1:" + rfcSeed)
		assert.ErrorIs(t, err, ErrInvalidKey)
	})

	t.Run("bad base58", func(t *testing.T) {
		_, err := KeyPairFromString("ed25519:0OIl")
		assert.ErrorIs(t, err, ErrInvalidKey)
	})

	t.Run("bad length", func(t *testing.T) {
		_, err := KeyPairFromString("ed25519:" + base58.Encode(make([]byte, 16)))
		assert.ErrorIs(t, err, ErrInvalidKey)
	})
}

func TestParsePublicKey(t *testing.T) {
	pk, err := ParsePublicKey(rfcPublic)
	require.NoError(t, err)
	assert.Equal(t, KeyTypeED25519, pk.Type)
	assert.Equal(t, rfcPublic, pk.String())

	_, err = ParsePublicKey("ed25519:" + base58.Encode(make([]byte, 33)))
	assert.ErrorIs(t, err, ErrInvalidKey)

	_, err = ParsePublicKey("rsa:" + base58.Encode(make([]byte, 32)))
	assert.ErrorIs(t, err, ErrInvalidKey)
}

func TestKeyPair_SignVerify(t *testing.T) {
	kp, err := GenerateKeyPair()
	require.NoError(t, err)

	msg := []byte("ft_transfer")
	sig := kp.Sign(msg)
	assert.Len(t, sig, 64)
	assert.True(t, kp.PublicKey().Verify(msg, sig))
	assert.False(t, kp.PublicKey().Verify([]byte("claim_drop"), sig))

	other, err := GenerateKeyPair()
	require.NoError(t, err)
	assert.NotEqual(t, kp.PublicKey(), other.PublicKey())
	assert.False(t, other.PublicKey().Verify(msg, sig))
}

func TestPublicKey_JSON(t *testing.T) {
	pk, err := ParsePublicKey(rfcPublic)
	require.NoError(t, err)

	type args struct {
		PublicKey PublicKey `json:"public_key"`
	}

	data, err := json.Marshal(args{PublicKey: pk})
	require.NoError(t, err)
	assert.JSONEq(t, `{"public_key":"`+rfcPublic+`"}`, string(data))

	var decoded args
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, pk, decoded.PublicKey)

	assert.Error(t, json.Unmarshal([]byte(`{"public_key":"ed25519:xyz"}`), &decoded))
}

func TestKeyType_String(t *testing.T) {
	assert.Equal(t, "ed25519", KeyTypeED25519.String())
	assert.Equal(t, "unknown", KeyType(7).String())
}
