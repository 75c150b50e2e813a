package crypto

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/venuearb/internal/domain"
)

const (
	testKey     = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"
	testAddress = "0x2c7536E3605D9C16a7a3D7b1898e529396a65c23"
)

func legRequest() domain.TradeLegRequest {
	return domain.TradeLegRequest{
		OpportunityID:   "alpha:beta:BTC-USD:buy:1750000000000",
		Leg:             1,
		Venue:           "alpha",
		Instrument:      "BTC-USD",
		Side:            domain.SideBuy,
		InputAmount:     1000,
		MinOutputAmount: 9.95,
		LimitPrice:      100,
		Attempt:         1,
	}
}

func TestWallet_Address(t *testing.T) {
	w, err := NewWallet("0x"+testKey, 137)
	require.NoError(t, err)
	assert.Equal(t, testAddress, w.Address())
}

func TestWallet_RejectsBadKey(t *testing.T) {
	_, err := NewWallet("zz", 1)
	require.Error(t, err)
}

func TestWallet_SignAndRecover(t *testing.T) {
	w, err := NewWallet(testKey, 137)
	require.NoError(t, err)

	req := legRequest()
	sig, err := w.SignLegRequest(req)
	require.NoError(t, err)
	assert.Len(t, sig, 2+130)

	got, err := w.RecoverSigner(req, sig)
	require.NoError(t, err)
	assert.Equal(t, w.Address(), got)

	again, err := w.SignLegRequest(req)
	require.NoError(t, err)
	assert.Equal(t, sig, again, "signing is deterministic")
}

func TestWallet_SignatureBindsRequestFields(t *testing.T) {
	w, err := NewWallet(testKey, 137)
	require.NoError(t, err)

	req := legRequest()
	sig, err := w.SignLegRequest(req)
	require.NoError(t, err)

	tampered := req
	tampered.MinOutputAmount = 1
	got, err := w.RecoverSigner(tampered, sig)
	require.NoError(t, err)
	assert.NotEqual(t, w.Address(), got)

	other, err := NewWallet(testKey, 1)
	require.NoError(t, err)
	otherSig, err := other.SignLegRequest(req)
	require.NoError(t, err)
	assert.NotEqual(t, sig, otherSig, "chain id is part of the domain")
}

func TestWallet_RecoverMalformed(t *testing.T) {
	w, err := GenerateWallet(1)
	require.NoError(t, err)
	_, err = w.RecoverSigner(legRequest(), "0x1234")
	require.Error(t, err)
}

func TestHMACAuth_HeadersAt(t *testing.T) {
	auth := HMACAuth{Key: "key-1", Secret: "s3cret"}
	h := auth.HeadersAt("0xabc", "POST", "/v1/legs", `{"leg":1}`, 1750000000)

	assert.Equal(t, "key-1", h[HeaderAPIKey])
	assert.Equal(t, "1750000000", h[HeaderTimestamp])
	assert.Equal(t, "0xabc", h[HeaderAddress])
	assert.Equal(t, Sign([]byte("s3cret"), `1750000000POST/v1/legs{"leg":1}`), h[HeaderSignature])

	assert.True(t, auth.Verify("1750000000", "POST", "/v1/legs", `{"leg":1}`, h[HeaderSignature]))
	assert.False(t, auth.Verify("1750000001", "POST", "/v1/legs", `{"leg":1}`, h[HeaderSignature]))
}

func TestHMACAuth_StringRedacts(t *testing.T) {
	s := HMACAuth{Key: "abcdefgh", Secret: "topsecretvalue"}.String()
	assert.NotContains(t, s, "topsecretvalue")
	assert.Contains(t, s, "abcd****")
}

func TestEncryptDecryptKey(t *testing.T) {
	data, err := EncryptKey("0x"+testKey, "hunter2")
	require.NoError(t, err)

	got, err := DecryptKey(data, "hunter2")
	require.NoError(t, err)
	assert.Equal(t, testKey, got)

	_, err = DecryptKey(data, "wrong")
	require.Error(t, err)

	_, err = EncryptKey(testKey, "")
	require.Error(t, err)
	_, err = EncryptKey("abcd", "pw")
	require.Error(t, err)
}

func TestLoadWallet(t *testing.T) {
	data, err := EncryptKey(testKey, "pw")
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "key.json")
	require.NoError(t, os.WriteFile(path, data, 0o600))

	w, err := LoadWallet(KeyConfig{EncryptedKeyPath: path, KeyPassword: "pw"}, 137)
	require.NoError(t, err)
	assert.Equal(t, testAddress, w.Address())

	w, err = LoadWallet(KeyConfig{RawPrivateKey: "0x" + testKey, EncryptedKeyPath: "/does/not/exist"}, 137)
	require.NoError(t, err, "raw key wins")
	assert.Equal(t, testAddress, w.Address())

	assert.True(t, KeyConfig{}.Empty())
	_, err = LoadKey(KeyConfig{})
	require.Error(t, err)
}
