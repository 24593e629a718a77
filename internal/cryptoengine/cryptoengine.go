/*
 * Copyright 2025 Cong Wang
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package cryptoengine implements the session-key agreement and AEAD
// primitives for the peer-to-peer channel: X25519 key agreement with
// SubjectPublicKeyInfo wire encoding, and AES-256-GCM seal/open using
// the raw ECDH output as the symmetric key.
package cryptoengine

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/ecdh"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"encoding/base64"

	"golang.org/x/crypto/curve25519"

	m2merrors "github.com/m2m-io/m2m/internal/errors"
)

// oidX25519 is the algorithm identifier used inside the SPKI envelope,
// per RFC 8410.
var oidX25519 = asn1.ObjectIdentifier{1, 3, 101, 110}

const (
	keySize   = 32
	nonceSize = 12
	tagSize   = 16
	minToken  = nonceSize + tagSize
)

// KeyPair is an ephemeral X25519 key pair used for exactly one session
// handshake. Keys are never persisted or reused.
type KeyPair struct {
	private [keySize]byte
	public  [keySize]byte
}

// GenerateKeyPair creates a fresh X25519 key pair.
func GenerateKeyPair() (*KeyPair, error) {
	var priv [keySize]byte
	if _, err := rand.Read(priv[:]); err != nil {
		return nil, m2merrors.Wrap(m2merrors.ErrCryptoECDHFailure, "failed to generate private key", err)
	}

	var pub [keySize]byte
	curve25519.ScalarBaseMult(&pub, &priv)

	return &KeyPair{private: priv, public: pub}, nil
}

// PublicKeySPKI returns the key pair's public key wrapped in a
// SubjectPublicKeyInfo DER structure and base64-encoded with standard
// padding, exactly the wire form spec.md requires.
func (kp *KeyPair) PublicKeySPKI() (string, error) {
	return encodeSPKI(kp.public)
}

// SharedSecret performs ECDH with a peer's SPKI-encoded public key and
// returns the raw 32-byte shared secret, used directly as the AES-256
// key with no additional KDF step.
func (kp *KeyPair) SharedSecret(peerSPKI string) ([32]byte, error) {
	var secret [32]byte

	peerPub, err := decodeSPKI(peerSPKI)
	if err != nil {
		return secret, err
	}

	shared, err := curve25519.X25519(kp.private[:], peerPub[:])
	if err != nil {
		return secret, m2merrors.Wrap(m2merrors.ErrCryptoECDHFailure, "ECDH computation failed", err)
	}
	copy(secret[:], shared)
	return secret, nil
}

func encodeSPKI(pub [keySize]byte) (string, error) {
	spki := struct {
		Algorithm pkix.AlgorithmIdentifier
		PublicKey asn1.BitString
	}{
		Algorithm: pkix.AlgorithmIdentifier{Algorithm: oidX25519},
		PublicKey: asn1.BitString{Bytes: pub[:], BitLength: keySize * 8},
	}

	der, err := asn1.Marshal(spki)
	if err != nil {
		return "", m2merrors.Wrap(m2merrors.ErrCryptoMalformedKey, "failed to encode SPKI public key", err)
	}
	return base64.StdEncoding.EncodeToString(der), nil
}

func decodeSPKI(b64 string) ([keySize]byte, error) {
	var out [keySize]byte

	der, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return out, m2merrors.Wrap(m2merrors.ErrCryptoMalformedKey, "failed to base64-decode public key", err)
	}

	pub, err := x509.ParsePKIXPublicKey(der)
	if err != nil {
		var spki struct {
			Algorithm pkix.AlgorithmIdentifier
			PublicKey asn1.BitString
		}
		if _, err2 := asn1.Unmarshal(der, &spki); err2 != nil {
			return out, m2merrors.Wrap(m2merrors.ErrCryptoMalformedKey, "failed to parse SPKI public key", err)
		}
		if len(spki.PublicKey.Bytes) != keySize {
			return out, m2merrors.New(m2merrors.ErrCryptoMalformedKey, "SPKI public key has wrong length")
		}
		copy(out[:], spki.PublicKey.Bytes)
		return out, nil
	}

	var raw []byte
	switch key := pub.(type) {
	case *ecdh.PublicKey:
		raw = key.Bytes()
	case []byte:
		raw = key
	}
	if len(raw) != keySize {
		return out, m2merrors.New(m2merrors.ErrCryptoMalformedKey, "SPKI public key has wrong length")
	}
	copy(out[:], raw)
	return out, nil
}

// Seal encrypts plaintext under sessionKey with a fresh random nonce
// and returns the base64 wire token `nonce(12) ‖ tag(16) ‖ ciphertext`.
func Seal(sessionKey [32]byte, plaintext []byte) (string, error) {
	block, err := aes.NewCipher(sessionKey[:])
	if err != nil {
		return "", m2merrors.Wrap(m2merrors.ErrCryptoAEADFailure, "failed to initialize AES cipher", err)
	}

	gcm, err := cipher.NewGCMWithNonceSize(block, nonceSize)
	if err != nil {
		return "", m2merrors.Wrap(m2merrors.ErrCryptoAEADFailure, "failed to initialize GCM", err)
	}

	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return "", m2merrors.Wrap(m2merrors.ErrCryptoAEADFailure, "failed to generate nonce", err)
	}

	sealed := gcm.Seal(nil, nonce, plaintext, nil) // Go's native ordering: ciphertext || tag
	ciphertext := sealed[:len(sealed)-tagSize]
	tag := sealed[len(sealed)-tagSize:]

	token := make([]byte, 0, nonceSize+tagSize+len(ciphertext))
	token = append(token, nonce...)
	token = append(token, tag...)
	token = append(token, ciphertext...)
	return base64.StdEncoding.EncodeToString(token), nil
}

// Open decrypts a base64 wire token produced by Seal. Tokens shorter
// than 28 bytes post-decode, or failing AEAD authentication, yield an
// error with no partial plaintext and no diagnostic detail about which
// check failed.
func Open(sessionKey [32]byte, token string) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(token)
	if err != nil || len(raw) < minToken {
		return nil, m2merrors.New(m2merrors.ErrCryptoAEADFailure, "malformed ciphertext token")
	}

	block, err := aes.NewCipher(sessionKey[:])
	if err != nil {
		return nil, m2merrors.New(m2merrors.ErrCryptoAEADFailure, "malformed ciphertext token")
	}

	gcm, err := cipher.NewGCMWithNonceSize(block, nonceSize)
	if err != nil {
		return nil, m2merrors.New(m2merrors.ErrCryptoAEADFailure, "malformed ciphertext token")
	}

	nonce := raw[:nonceSize]
	tag := raw[nonceSize : nonceSize+tagSize]
	ciphertext := raw[nonceSize+tagSize:]

	// Go's cipher.AEAD expects ciphertext || tag; the wire format
	// carries tag before ciphertext, so reassemble before Open.
	sealed := make([]byte, 0, len(ciphertext)+tagSize)
	sealed = append(sealed, ciphertext...)
	sealed = append(sealed, tag...)

	plaintext, err := gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, m2merrors.New(m2merrors.ErrCryptoAEADFailure, "authentication failed")
	}

	return plaintext, nil
}
