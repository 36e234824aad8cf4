package signing

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ProtonMail/go-crypto/openpgp"
	"github.com/ProtonMail/go-crypto/openpgp/armor"
	"github.com/stretchr/testify/require"
)

func newTestKey(t *testing.T) (*openpgp.Entity, string) {
	e, err := openpgp.NewEntity("Release Bot", "test", "release@example.com", nil)
	require.NoError(t, err)
	var buf bytes.Buffer
	w, err := armor.Encode(&buf, openpgp.PrivateKeyType, nil)
	require.NoError(t, err)
	require.NoError(t, e.SerializePrivate(w, nil))
	require.NoError(t, w.Close())
	return e, buf.String()
}

func TestLoadKeyFromArmor(t *testing.T) {
	e, armored := newTestKey(t)
	key, err := LoadKey(armored, "")
	require.NoError(t, err)
	require.Equal(t, e.PrimaryKey.KeyIdString(), key.PrimaryKey.KeyIdString())
}

func TestLoadKeyFromFile(t *testing.T) {
	_, armored := newTestKey(t)
	path := filepath.Join(t.TempDir(), "key.asc")
	require.NoError(t, os.WriteFile(path, []byte(armored), 0o600))
	key, err := LoadKey(path, "")
	require.NoError(t, err)
	require.NotNil(t, key.PrivateKey)

	_, err = LoadKey(filepath.Join(t.TempDir(), "missing.asc"), "")
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestReadKeyPublicOnly(t *testing.T) {
	e, _ := newTestKey(t)
	pub, err := ArmoredPublicKey(e)
	require.NoError(t, err)
	_, err = ReadKey(strings.NewReader(pub), "")
	require.ErrorIs(t, err, ErrNoPrivateKey)
}

func TestSignAndVerify(t *testing.T) {
	e, _ := newTestKey(t)
	pub, err := ArmoredPublicKey(e)
	require.NoError(t, err)

	content := "3fa65313f3ee7c23d31896e7f57af67618b88dff00f6eb7c3aba2d968d6d4b32  cloud-canary-linux-amd64.tar.gz\n"
	var sig bytes.Buffer
	require.NoError(t, SignDetached(e, strings.NewReader(content), &sig))
	require.Contains(t, sig.String(), "BEGIN PGP SIGNATURE")

	keyID, err := VerifyDetached(strings.NewReader(pub), strings.NewReader(content), bytes.NewReader(sig.Bytes()))
	require.NoError(t, err)
	require.Equal(t, e.PrimaryKey.KeyIdString(), keyID)

	_, err = VerifyDetached(strings.NewReader(pub), strings.NewReader(content+"tampered"), bytes.NewReader(sig.Bytes()))
	require.ErrorContains(t, err, "invalid signature")
}

func TestSignFile(t *testing.T) {
	e, _ := newTestKey(t)
	pub, err := ArmoredPublicKey(e)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "checksums-canary.txt")
	require.NoError(t, os.WriteFile(path, []byte("aa  a.tar.gz\n"), 0o644))
	sigPath, err := SignFile(e, path)
	require.NoError(t, err)
	require.Equal(t, path+".asc", sigPath)

	signed, err := os.Open(path)
	require.NoError(t, err)
	defer signed.Close()
	sig, err := os.Open(sigPath)
	require.NoError(t, err)
	defer sig.Close()
	_, err = VerifyDetached(strings.NewReader(pub), signed, sig)
	require.NoError(t, err)
}
