package identity

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"

	"golang.org/x/crypto/scrypt"
)

// Export is Load's inverse: it marshals kp's private key material to
// PKCS#8 and PEM-encodes it, sealing it with passphrase when one is
// given. The result is accepted by Load. Only the key pair's own
// generator/loader holds the private key, so Export requires the
// concrete *Ed25519KeyPair or *RSA4096KeyPair, not the KeyPair interface.
func Export(kp interface{ pkcs8() ([]byte, error) }, passphrase string) ([]byte, error) {
	der, err := kp.pkcs8()
	if err != nil {
		return nil, &KeyMaterialError{Op: "export", Err: err}
	}
	if passphrase == "" {
		return pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der}), nil
	}
	return Seal(der, passphrase)
}

func (k *Ed25519KeyPair) pkcs8() ([]byte, error) {
	return x509.MarshalPKCS8PrivateKey(k.priv)
}

func (k *RSA4096KeyPair) pkcs8() ([]byte, error) {
	return x509.MarshalPKCS8PrivateKey(k.priv)
}

// Load parses private key material produced by Seal/unwraps a
// passphrase-protected key, per spec.md §4.2: `load(private_key_bytes,
// optional_passphrase)`.
//
// privateKeyBytes is a PEM block. Two block types are recognized:
//   - "PRIVATE KEY" (PKCS#8, plaintext; passphrase must be empty)
//   - "LEXECON SEALED KEY" (scrypt+AES-GCM wrapped PKCS#8; passphrase
//     required)
//
// Returns KeyMaterialError if the block is corrupt or the passphrase is
// wrong.
func Load(privateKeyBytes []byte, passphrase string) (KeyPair, error) {
	block, _ := pem.Decode(privateKeyBytes)
	if block == nil {
		return nil, &KeyMaterialError{Op: "load", Err: fmt.Errorf("no PEM block found")}
	}

	var der []byte
	switch block.Type {
	case "PRIVATE KEY":
		der = block.Bytes
	case "LEXECON SEALED KEY":
		plain, err := unseal(block.Bytes, passphrase)
		if err != nil {
			return nil, &KeyMaterialError{Op: "load", Err: err}
		}
		der = plain
	default:
		return nil, &KeyMaterialError{Op: "load", Err: fmt.Errorf("unrecognized PEM block type %q", block.Type)}
	}

	key, err := x509.ParsePKCS8PrivateKey(der)
	if err != nil {
		return nil, &KeyMaterialError{Op: "load", Err: fmt.Errorf("corrupt key material: %w", err)}
	}

	switch k := key.(type) {
	case ed25519.PrivateKey:
		return &Ed25519KeyPair{priv: k, pub: k.Public().(ed25519.PublicKey)}, nil
	case *rsa.PrivateKey:
		return RSA4096FromPrivateKey(k), nil
	default:
		return nil, &KeyMaterialError{Op: "load", Err: fmt.Errorf("unsupported key type %T", key)}
	}
}

// Seal wraps a PKCS#8 private key with a passphrase-derived AES-GCM key
// (scrypt KDF), producing a PEM block Load can later decrypt.
func Seal(pkcs8 []byte, passphrase string) ([]byte, error) {
	salt := make([]byte, 16)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("identity: seal: %w", err)
	}

	key, err := scrypt.Key([]byte(passphrase), salt, 1<<15, 8, 1, 32)
	if err != nil {
		return nil, fmt.Errorf("identity: seal: scrypt: %w", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("identity: seal: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("identity: seal: %w", err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("identity: seal: %w", err)
	}

	ciphertext := gcm.Seal(nil, nonce, pkcs8, nil)

	payload := append(append(append([]byte{}, salt...), nonce...), ciphertext...)
	return pem.EncodeToMemory(&pem.Block{Type: "LEXECON SEALED KEY", Bytes: payload}), nil
}

func unseal(payload []byte, passphrase string) ([]byte, error) {
	const saltLen = 16
	if len(payload) < saltLen {
		return nil, fmt.Errorf("sealed key truncated")
	}
	salt := payload[:saltLen]
	rest := payload[saltLen:]

	key, err := scrypt.Key([]byte(passphrase), salt, 1<<15, 8, 1, 32)
	if err != nil {
		return nil, fmt.Errorf("scrypt: %w", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	nonceLen := gcm.NonceSize()
	if len(rest) < nonceLen {
		return nil, fmt.Errorf("sealed key truncated")
	}
	nonce, ciphertext := rest[:nonceLen], rest[nonceLen:]

	plain, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("wrong passphrase or corrupt key material")
	}
	return plain, nil
}
