package circuit

import (
	"crypto/rand"
	"errors"
	"io"

	"filippo.io/mlkem768"
	"golang.org/x/crypto/chacha20poly1305"
)

// generateKEM returns an ML-KEM-768 key pair for the server side of a
// secured connection; enc travels to the client in a chunkKey.
func generateKEM() (enc []byte, decap *mlkem768.DecapsulationKey, err error) {
	decap, err = mlkem768.GenerateKey()
	if err != nil {
		return nil, nil, err
	}
	return decap.EncapsulationKey(), decap, nil
}

// encapsulate derives the shared secret on the client side; ciphertext
// travels back in a chunkCipher.
func encapsulate(enc []byte) (secret, ciphertext []byte, err error) {
	ciphertext, secret, err = mlkem768.Encapsulate(enc)
	if err != nil {
		return nil, nil, err
	}
	return secret, ciphertext, nil
}

func decapsulate(decap *mlkem768.DecapsulationKey, ciphertext []byte) ([]byte, error) {
	return mlkem768.Decapsulate(decap, ciphertext)
}

// seal encrypts plaintext with the connection secret; the random nonce is
// prepended to the result.
func seal(key, plaintext []byte) ([]byte, error) {
	if len(key) != chacha20poly1305.KeySize {
		return nil, errors.New("secret must be 32 bytes")
	}
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, chacha20poly1305.NonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}
	return aead.Seal(nonce, nonce, plaintext, nil), nil
}

// open decrypts a sealed payload (leading nonce).
func open(key, sealed []byte) ([]byte, error) {
	if len(key) != chacha20poly1305.KeySize {
		return nil, errors.New("secret must be 32 bytes")
	}
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, err
	}
	if len(sealed) < chacha20poly1305.NonceSize {
		return nil, errors.New("sealed payload too short")
	}
	nonce, ct := sealed[:chacha20poly1305.NonceSize], sealed[chacha20poly1305.NonceSize:]
	return aead.Open(nil, nonce, ct, nil)
}
