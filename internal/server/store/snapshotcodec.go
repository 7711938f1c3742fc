package store

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"

	"profkeeper/internal/protocol"
)

// Snapshot wire layout: a sequence of records, one per account in
// registration order, each
//
//	len(username) . username . len(password) . password . len(content) . content
//
// with 4-byte little-endian lengths. An absent content is encoded as the
// length 0xFFFFFFFF with no content bytes, which keeps it distinct from a
// zero-length content.

// absentContent marks a record whose account has no content.
const absentContent = ^uint32(0)

func encodeSnapshot(accounts []*Account) []byte {
	var b []byte
	for _, a := range accounts {
		b = protocol.AppendField(b, []byte(a.Username))
		b = protocol.AppendField(b, []byte(a.Password))
		if a.Content == nil {
			b = binary.LittleEndian.AppendUint32(b, absentContent)
		} else {
			b = protocol.AppendField(b, a.Content)
		}
	}
	return b
}

func decodeSnapshot(data []byte) ([]*Account, error) {
	var accounts []*Account
	seen := make(map[string]struct{})

	off := 0
	next := func(max int) ([]byte, bool, error) {
		if len(data)-off < 4 {
			return nil, false, fmt.Errorf("snapshot corrupt: truncated length at offset %d", off)
		}
		n := binary.LittleEndian.Uint32(data[off : off+4])
		off += 4
		if n == absentContent {
			return nil, true, nil
		}
		if n > uint32(max) || int(n) > len(data)-off {
			return nil, false, fmt.Errorf("snapshot corrupt: field length %d at offset %d", n, off-4)
		}
		v := make([]byte, n)
		copy(v, data[off:off+int(n)])
		off += int(n)
		return v, false, nil
	}

	for off < len(data) {
		user, absent, err := next(protocol.LenUname)
		if err != nil {
			return nil, err
		}
		if absent {
			return nil, fmt.Errorf("snapshot corrupt: absent marker in username at offset %d", off-4)
		}
		pass, absent, err := next(protocol.LenPass)
		if err != nil {
			return nil, err
		}
		if absent {
			return nil, fmt.Errorf("snapshot corrupt: absent marker in password at offset %d", off-4)
		}
		content, absent, err := next(protocol.LenContent)
		if err != nil {
			return nil, err
		}

		name := string(user)
		if _, ok := seen[name]; ok {
			return nil, fmt.Errorf("snapshot corrupt: duplicate user %q", name)
		}
		seen[name] = struct{}{}

		a := &Account{Username: name, Password: string(pass)}
		if !absent {
			a.Content = content
		}
		accounts = append(accounts, a)
	}
	return accounts, nil
}

// At-rest envelope: when a passphrase is configured, the encoded snapshot is
// sealed with ChaCha20-Poly1305 under an Argon2id-derived key before it
// reaches any sink. Layout: salt(16) . nonce(12) . ciphertext.

const envelopeSaltSize = 16

func deriveSnapshotKey(passphrase string, salt []byte) []byte {
	return argon2.IDKey([]byte(passphrase), salt, 1, 64*1024, 4, chacha20poly1305.KeySize)
}

func sealSnapshot(passphrase string, plain []byte) ([]byte, error) {
	salt := make([]byte, envelopeSaltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("seal snapshot: %w", err)
	}
	aead, err := chacha20poly1305.New(deriveSnapshotKey(passphrase, salt))
	if err != nil {
		return nil, fmt.Errorf("seal snapshot: %w", err)
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("seal snapshot: %w", err)
	}
	out := append(salt, nonce...)
	return aead.Seal(out, nonce, plain, nil), nil
}

func openSnapshot(passphrase string, blob []byte) ([]byte, error) {
	if len(blob) < envelopeSaltSize+chacha20poly1305.NonceSize {
		return nil, fmt.Errorf("snapshot corrupt: sealed blob too short")
	}
	salt := blob[:envelopeSaltSize]
	nonce := blob[envelopeSaltSize : envelopeSaltSize+chacha20poly1305.NonceSize]
	ct := blob[envelopeSaltSize+chacha20poly1305.NonceSize:]

	aead, err := chacha20poly1305.New(deriveSnapshotKey(passphrase, salt))
	if err != nil {
		return nil, fmt.Errorf("open snapshot: %w", err)
	}
	plain, err := aead.Open(nil, nonce, ct, nil)
	if err != nil {
		return nil, fmt.Errorf("open snapshot: wrong passphrase or corrupt data: %w", err)
	}
	return plain, nil
}
