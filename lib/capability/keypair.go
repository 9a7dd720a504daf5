// Copyright 2026 The VMS Authors
// SPDX-License-Identifier: Apache-2.0

package capability

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"filippo.io/age"
)

const (
	privateKeyFile       = "token-signing-key"
	sealedPrivateKeyFile = "token-signing-key.age"
	publicKeyFile        = "token-signing-key.pub"
)

// GenerateKeypair creates a new Ed25519 keypair for token signing.
func GenerateKeypair() (ed25519.PublicKey, ed25519.PrivateKey, error) {
	public, private, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, nil, fmt.Errorf("generating Ed25519 keypair: %w", err)
	}
	return public, private, nil
}

// SaveKeypair writes the keypair to stateDir. With a nil identity the
// private key is written raw with 0600 permissions; otherwise it is
// encrypted to identity's recipient and written as age ciphertext.
func SaveKeypair(stateDir string, public ed25519.PublicKey, private ed25519.PrivateKey, identity *age.X25519Identity) error {
	if identity == nil {
		if err := os.WriteFile(filepath.Join(stateDir, privateKeyFile), private, 0600); err != nil {
			return fmt.Errorf("writing private key: %w", err)
		}
	} else {
		var sealed bytes.Buffer
		writer, err := age.Encrypt(&sealed, identity.Recipient())
		if err != nil {
			return fmt.Errorf("creating age encryptor: %w", err)
		}
		if _, err := writer.Write(private); err != nil {
			return fmt.Errorf("sealing private key: %w", err)
		}
		if err := writer.Close(); err != nil {
			return fmt.Errorf("finalizing sealed private key: %w", err)
		}
		if err := os.WriteFile(filepath.Join(stateDir, sealedPrivateKeyFile), sealed.Bytes(), 0600); err != nil {
			return fmt.Errorf("writing sealed private key: %w", err)
		}
	}

	if err := os.WriteFile(filepath.Join(stateDir, publicKeyFile), public, 0644); err != nil {
		return fmt.Errorf("writing public key: %w", err)
	}
	return nil
}

// LoadKeypair loads the keypair from stateDir. identity must be
// non-nil exactly when the key was saved sealed.
func LoadKeypair(stateDir string, identity *age.X25519Identity) (ed25519.PublicKey, ed25519.PrivateKey, error) {
	var privateBytes []byte
	if identity == nil {
		data, err := os.ReadFile(filepath.Join(stateDir, privateKeyFile))
		if err != nil {
			return nil, nil, fmt.Errorf("reading private key: %w", err)
		}
		privateBytes = data
	} else {
		sealed, err := os.ReadFile(filepath.Join(stateDir, sealedPrivateKeyFile))
		if err != nil {
			return nil, nil, fmt.Errorf("reading sealed private key: %w", err)
		}
		reader, err := age.Decrypt(bytes.NewReader(sealed), identity)
		if err != nil {
			return nil, nil, fmt.Errorf("unsealing private key: %w", err)
		}
		privateBytes, err = io.ReadAll(reader)
		if err != nil {
			return nil, nil, fmt.Errorf("reading unsealed private key: %w", err)
		}
	}
	if len(privateBytes) != ed25519.PrivateKeySize {
		return nil, nil, fmt.Errorf("private key has %d bytes, want %d", len(privateBytes), ed25519.PrivateKeySize)
	}

	publicBytes, err := os.ReadFile(filepath.Join(stateDir, publicKeyFile))
	if err != nil {
		return nil, nil, fmt.Errorf("reading public key: %w", err)
	}
	if len(publicBytes) != ed25519.PublicKeySize {
		return nil, nil, fmt.Errorf("public key has %d bytes, want %d", len(publicBytes), ed25519.PublicKeySize)
	}

	private := ed25519.PrivateKey(privateBytes)
	if !bytes.Equal(private.Public().(ed25519.PublicKey), publicBytes) {
		return nil, nil, errors.New("public key does not match private key")
	}
	return ed25519.PublicKey(publicBytes), private, nil
}

// LoadOrGenerateKeypair loads the keypair from stateDir, or generates
// and saves one if no private key file exists. Reports whether a new
// keypair was generated.
func LoadOrGenerateKeypair(stateDir string, identity *age.X25519Identity) (ed25519.PublicKey, ed25519.PrivateKey, bool, error) {
	public, private, err := LoadKeypair(stateDir, identity)
	if err == nil {
		return public, private, false, nil
	}

	privatePath := filepath.Join(stateDir, privateKeyFile)
	if identity != nil {
		privatePath = filepath.Join(stateDir, sealedPrivateKeyFile)
	}
	if _, statErr := os.Stat(privatePath); statErr == nil {
		// Present but unreadable: corruption, wrong identity, or bad size.
		return nil, nil, false, err
	}

	public, private, err = GenerateKeypair()
	if err != nil {
		return nil, nil, false, err
	}
	if err := SaveKeypair(stateDir, public, private, identity); err != nil {
		return nil, nil, false, err
	}
	return public, private, true, nil
}

// LoadIdentity reads an age X25519 identity ("AGE-SECRET-KEY-1...")
// from path. Comment lines starting with '#' are ignored.
func LoadIdentity(path string) (*age.X25519Identity, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading identity file: %w", err)
	}
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		identity, err := age.ParseX25519Identity(line)
		if err != nil {
			return nil, fmt.Errorf("parsing identity file %s: %w", path, err)
		}
		return identity, nil
	}
	return nil, fmt.Errorf("identity file %s contains no key", path)
}

// GenerateIdentity creates a new age identity and writes it to path
// with 0600 permissions.
func GenerateIdentity(path string) (*age.X25519Identity, error) {
	identity, err := age.GenerateX25519Identity()
	if err != nil {
		return nil, fmt.Errorf("generating age identity: %w", err)
	}
	content := "# public key: " + identity.Recipient().String() + "\n" + identity.String() + "\n"
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		return nil, fmt.Errorf("writing identity file: %w", err)
	}
	return identity, nil
}
