package signing

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/ProtonMail/go-crypto/openpgp"
	"github.com/ProtonMail/go-crypto/openpgp/armor"
)

// SignatureSuffix is appended to the name of a signed file.
const SignatureSuffix = ".asc"

var ErrNoPrivateKey = errors.New("key ring contains no private key")

// ReadKey reads the first private key of an armored key ring and decrypts it
// with passphrase when it is protected.
func ReadKey(r io.Reader, passphrase string) (*openpgp.Entity, error) {
	entities, err := openpgp.ReadArmoredKeyRing(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read key ring: %w", err)
	}
	for _, e := range entities {
		if e.PrivateKey == nil {
			continue
		}
		if e.PrivateKey.Encrypted {
			if passphrase == "" {
				return nil, fmt.Errorf("private key %s is encrypted and no passphrase was provided", e.PrimaryKey.KeyIdString())
			}
			if err := e.PrivateKey.Decrypt([]byte(passphrase)); err != nil {
				return nil, fmt.Errorf("failed to decrypt private key: %w", err)
			}
		}
		for _, sub := range e.Subkeys {
			if sub.PrivateKey != nil && sub.PrivateKey.Encrypted {
				if err := sub.PrivateKey.Decrypt([]byte(passphrase)); err != nil {
					return nil, fmt.Errorf("failed to decrypt subkey: %w", err)
				}
			}
		}
		return e, nil
	}
	return nil, ErrNoPrivateKey
}

// LoadKey accepts either a path to an armored key file or the armored key
// itself, which is how CI secrets usually provide it.
func LoadKey(pathOrArmor, passphrase string) (*openpgp.Entity, error) {
	if strings.HasPrefix(strings.TrimSpace(pathOrArmor), "-----BEGIN PGP") {
		return ReadKey(strings.NewReader(pathOrArmor), passphrase)
	}
	f, err := os.Open(pathOrArmor)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ReadKey(f, passphrase)
}

func SignDetached(key *openpgp.Entity, in io.Reader, out io.Writer) error {
	return openpgp.ArmoredDetachSign(out, key, in, nil)
}

// SignFile writes <path>.asc next to path and returns its location.
func SignFile(key *openpgp.Entity, path string) (string, error) {
	in, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer in.Close()
	sigPath := path + SignatureSuffix
	out, err := os.Create(sigPath)
	if err != nil {
		return "", err
	}
	if err := SignDetached(key, in, out); err != nil {
		_ = out.Close()
		return "", fmt.Errorf("failed to sign %s: %w", path, err)
	}
	return sigPath, out.Close()
}

// VerifyDetached checks an armored detached signature against an armored
// public key ring and returns the id of the signing key.
func VerifyDetached(pubring, signed, sig io.Reader) (string, error) {
	keyring, err := openpgp.ReadArmoredKeyRing(pubring)
	if err != nil {
		return "", fmt.Errorf("failed to read public key ring: %w", err)
	}
	signer, err := openpgp.CheckArmoredDetachedSignature(keyring, signed, sig, nil)
	if err != nil {
		return "", fmt.Errorf("invalid signature: %w", err)
	}
	return signer.PrimaryKey.KeyIdString(), nil
}

// ArmoredPublicKey exports the public part of key.
func ArmoredPublicKey(key *openpgp.Entity) (string, error) {
	var buf bytes.Buffer
	w, err := armor.Encode(&buf, openpgp.PublicKeyType, nil)
	if err != nil {
		return "", err
	}
	if err := key.Serialize(w); err != nil {
		return "", err
	}
	if err := w.Close(); err != nil {
		return "", err
	}
	return buf.String(), nil
}
