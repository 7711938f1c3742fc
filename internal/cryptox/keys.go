package cryptox

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
)

const keyBits = 2048

// LoadOrGenerateKey reads a PKCS#1 PEM private key from path. If the file
// does not exist a new 2048-bit keypair is generated and written there with
// mode 0600, alongside the public half at path + ".pub". A present but
// unreadable or corrupt key file is an error: silently regenerating would
// orphan every client holding the old public key.
func LoadOrGenerateKey(path string) (*rsa.PrivateKey, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return generateKey(path)
	}
	if err != nil {
		return nil, fmt.Errorf("read key file: %w", err)
	}

	block, _ := pem.Decode(data)
	if block == nil || block.Type != "RSA PRIVATE KEY" {
		return nil, fmt.Errorf("key file %s: no RSA PRIVATE KEY block", path)
	}
	priv, err := x509.ParsePKCS1PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("key file %s: %w", path, err)
	}
	return priv, nil
}

func generateKey(path string) (*rsa.PrivateKey, error) {
	priv, err := rsa.GenerateKey(rand.Reader, keyBits)
	if err != nil {
		return nil, fmt.Errorf("generate keypair: %w", err)
	}

	privPEM := pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(priv),
	})
	if err := os.WriteFile(path, privPEM, 0o600); err != nil {
		return nil, fmt.Errorf("write key file: %w", err)
	}
	if err := os.WriteFile(path+".pub", MarshalPublicKey(&priv.PublicKey), 0o644); err != nil {
		return nil, fmt.Errorf("write public key file: %w", err)
	}
	return priv, nil
}
