// Package cryptox isolates every cryptographic operation of the wire
// protocol so the rest of the system never touches raw key material. The
// hybrid scheme is RSA-2048 (PKCS#1 v1.5) over a single-use 32-byte session
// key, with AES-256-GCM for the variable-length payloads.
package cryptox

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"

	"profkeeper/internal/protocol"
)

// Channel is the server's view of the crypto layer. The handler depends on
// this interface so tests can substitute deterministic fakes for real keys.
type Channel interface {
	// SerializePublicKey returns the deterministic encoding of the server's
	// public key, sent unencrypted in answer to the KEY command.
	SerializePublicKey() []byte

	// DecryptBlock decrypts a fixed-size rblock with the server's private key.
	DecryptBlock(rblock []byte) ([]byte, error)

	// EncryptPayload seals a response body with the request's session key.
	EncryptPayload(key, plaintext []byte) ([]byte, error)

	// DecryptPayload opens an ablock with the session key from the rblock.
	DecryptPayload(key, ciphertext []byte) ([]byte, error)
}

// RSAChannel wraps the server's RSA keypair.
type RSAChannel struct {
	priv   *rsa.PrivateKey
	pubPEM []byte
}

var _ Channel = (*RSAChannel)(nil)

// NewChannel builds a channel around priv. The key must be 2048 bits so the
// rblock and the serialized public key match the wire-format sizes.
func NewChannel(priv *rsa.PrivateKey) (*RSAChannel, error) {
	pubPEM := MarshalPublicKey(&priv.PublicKey)
	if len(pubPEM) != protocol.LenRSAPubKey {
		return nil, fmt.Errorf("serialized public key is %d bytes, want %d (key must be 2048 bits)",
			len(pubPEM), protocol.LenRSAPubKey)
	}
	return &RSAChannel{priv: priv, pubPEM: pubPEM}, nil
}

func (c *RSAChannel) SerializePublicKey() []byte {
	out := make([]byte, len(c.pubPEM))
	copy(out, c.pubPEM)
	return out
}

func (c *RSAChannel) DecryptBlock(rblock []byte) ([]byte, error) {
	if len(rblock) != protocol.LenRKBlock {
		return nil, fmt.Errorf("%w: rblock is %d bytes, want %d", protocol.ErrCrypto, len(rblock), protocol.LenRKBlock)
	}
	plain, err := rsa.DecryptPKCS1v15(nil, c.priv, rblock)
	if err != nil {
		return nil, fmt.Errorf("%w: rsa decrypt: %v", protocol.ErrCrypto, err)
	}
	if len(plain) != protocol.LenRBlockContent {
		return nil, fmt.Errorf("%w: rblock plaintext is %d bytes, want %d",
			protocol.ErrCrypto, len(plain), protocol.LenRBlockContent)
	}
	return plain, nil
}

func (c *RSAChannel) EncryptPayload(key, plaintext []byte) ([]byte, error) {
	return EncryptPayload(key, plaintext)
}

func (c *RSAChannel) DecryptPayload(key, ciphertext []byte) ([]byte, error) {
	return DecryptPayload(key, ciphertext)
}

// EncryptPayload seals plaintext with AES-256-GCM under key. A fresh random
// nonce is generated per call and prepended to the ciphertext.
func EncryptPayload(key, plaintext []byte) ([]byte, error) {
	aead, err := newAEAD(key)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("%w: nonce: %v", protocol.ErrCrypto, err)
	}
	return aead.Seal(nonce, nonce, plaintext, nil), nil
}

// DecryptPayload opens a nonce-prefixed AES-256-GCM ciphertext.
func DecryptPayload(key, ciphertext []byte) ([]byte, error) {
	aead, err := newAEAD(key)
	if err != nil {
		return nil, err
	}
	if len(ciphertext) < aead.NonceSize() {
		return nil, fmt.Errorf("%w: ciphertext shorter than nonce", protocol.ErrCrypto)
	}
	nonce, ct := ciphertext[:aead.NonceSize()], ciphertext[aead.NonceSize():]
	plain, err := aead.Open(nil, nonce, ct, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: aes open: %v", protocol.ErrCrypto, err)
	}
	// Open yields nil for an empty plaintext; callers distinguish nil from
	// empty, so keep emptiness intact.
	if plain == nil {
		plain = []byte{}
	}
	return plain, nil
}

func newAEAD(key []byte) (cipher.AEAD, error) {
	if len(key) != protocol.SessionKeySize {
		return nil, fmt.Errorf("%w: session key is %d bytes, want %d", protocol.ErrCrypto, len(key), protocol.SessionKeySize)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", protocol.ErrCrypto, err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", protocol.ErrCrypto, err)
	}
	return aead, nil
}

// GenerateSessionKey returns a fresh 32-byte symmetric key. Client role only;
// one key per request, never reused.
func GenerateSessionKey() ([]byte, error) {
	key := make([]byte, protocol.SessionKeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("%w: session key: %v", protocol.ErrCrypto, err)
	}
	return key, nil
}

// EncryptBlock RSA-encrypts a pre-padded rblock plaintext with the server's
// public key. Client role only.
func EncryptBlock(pub *rsa.PublicKey, content []byte) ([]byte, error) {
	ct, err := rsa.EncryptPKCS1v15(rand.Reader, pub, content)
	if err != nil {
		return nil, fmt.Errorf("%w: rsa encrypt: %v", protocol.ErrCrypto, err)
	}
	if len(ct) != protocol.LenRKBlock {
		return nil, fmt.Errorf("%w: rblock is %d bytes, want %d", protocol.ErrCrypto, len(ct), protocol.LenRKBlock)
	}
	return ct, nil
}

// MarshalPublicKey encodes pub as a PKCS#1 PEM block. For a 2048-bit key the
// result is exactly LenRSAPubKey bytes.
func MarshalPublicKey(pub *rsa.PublicKey) []byte {
	return pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PUBLIC KEY",
		Bytes: x509.MarshalPKCS1PublicKey(pub),
	})
}

// ParsePublicKey is the inverse of MarshalPublicKey.
func ParsePublicKey(data []byte) (*rsa.PublicKey, error) {
	block, _ := pem.Decode(data)
	if block == nil || block.Type != "RSA PUBLIC KEY" {
		return nil, fmt.Errorf("%w: no RSA PUBLIC KEY block", protocol.ErrCrypto)
	}
	pub, err := x509.ParsePKCS1PublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("%w: parse public key: %v", protocol.ErrCrypto, err)
	}
	return pub, nil
}
