// Пакет fragment — преобразования полезной нагрузки фрагмента.
//
// Encoder — обратимое преобразование формата (бинарные данные ↔ текст
// для JSON-кадра), конфиденциальности не обеспечивает.
// Cipher — аутентифицированное шифрование. Применяется до кодирования,
// агент хранит шифротекст как есть.
package fragment

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

// ErrCiphertextTooShort — шифротекст короче nonce.
var ErrCiphertextTooShort = errors.New("шифротекст короче nonce")

// Encoder — преобразование формата полезной нагрузки.
type Encoder interface {
	Encode(data []byte) string
	Decode(s string) ([]byte, error)
}

// Cipher — конфиденциальность полезной нагрузки.
type Cipher interface {
	Seal(plaintext []byte) ([]byte, error)
	Open(ciphertext []byte) ([]byte, error)
}

// Base64Encoder — стандартный base64 с padding.
type Base64Encoder struct{}

// Encode кодирует данные в base64.
func (Base64Encoder) Encode(data []byte) string {
	return base64.StdEncoding.EncodeToString(data)
}

// Decode декодирует base64.
func (Base64Encoder) Decode(s string) ([]byte, error) {
	data, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("ошибка декодирования base64: %w", err)
	}
	return data, nil
}

// NopCipher — шифрование отключено, данные передаются как есть.
type NopCipher struct{}

// Seal возвращает данные без изменений.
func (NopCipher) Seal(plaintext []byte) ([]byte, error) { return plaintext, nil }

// Open возвращает данные без изменений.
func (NopCipher) Open(ciphertext []byte) ([]byte, error) { return ciphertext, nil }

// XChaCha20Cipher — XChaCha20-Poly1305 со случайным 24-байтным nonce,
// nonce записывается перед шифротекстом.
type XChaCha20Cipher struct {
	key []byte
}

// NewXChaCha20Cipher создаёт шифр. Ключ — 32 байта.
func NewXChaCha20Cipher(key []byte) (*XChaCha20Cipher, error) {
	if len(key) != chacha20poly1305.KeySize {
		return nil, fmt.Errorf("некорректная длина ключа: %d байт, ожидается %d", len(key), chacha20poly1305.KeySize)
	}
	k := make([]byte, len(key))
	copy(k, key)
	return &XChaCha20Cipher{key: k}, nil
}

// Seal шифрует данные: nonce || ciphertext || tag.
func (c *XChaCha20Cipher) Seal(plaintext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(c.key)
	if err != nil {
		return nil, fmt.Errorf("ошибка инициализации AEAD: %w", err)
	}

	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(plaintext)+aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("ошибка генерации nonce: %w", err)
	}
	return aead.Seal(nonce, nonce, plaintext, nil), nil
}

// Open расшифровывает данные, сформированные Seal.
func (c *XChaCha20Cipher) Open(ciphertext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(c.key)
	if err != nil {
		return nil, fmt.Errorf("ошибка инициализации AEAD: %w", err)
	}
	if len(ciphertext) < aead.NonceSize() {
		return nil, ErrCiphertextTooShort
	}

	nonce, sealed := ciphertext[:aead.NonceSize()], ciphertext[aead.NonceSize():]
	plaintext, err := aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, fmt.Errorf("ошибка расшифрования: %w", err)
	}
	return plaintext, nil
}
