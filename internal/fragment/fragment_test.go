package fragment

import (
	"bytes"
	"errors"
	"testing"
)

func TestBase64Encoder_RoundTrip(t *testing.T) {
	enc := Base64Encoder{}
	data := []byte{0x00, 0xff, 'h', 'i', 0x10}

	s := enc.Encode(data)
	got, err := enc.Decode(s)
	if err != nil {
		t.Fatalf("Decode() вернул ошибку: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Errorf("Decode(Encode(x)) = %v, ожидалось %v", got, data)
	}

	if _, err := enc.Decode("не base64!"); err == nil {
		t.Error("ожидалась ошибка для некорректного base64")
	}
}

func TestXChaCha20Cipher(t *testing.T) {
	key := bytes.Repeat([]byte{7}, 32)
	c, err := NewXChaCha20Cipher(key)
	if err != nil {
		t.Fatalf("NewXChaCha20Cipher() вернул ошибку: %v", err)
	}

	plaintext := []byte("fragment payload")
	sealed1, err := c.Seal(plaintext)
	if err != nil {
		t.Fatalf("Seal() вернул ошибку: %v", err)
	}
	sealed2, _ := c.Seal(plaintext)
	if bytes.Equal(sealed1, sealed2) {
		t.Error("два шифротекста совпали: nonce не случаен")
	}
	if bytes.Contains(sealed1, plaintext) {
		t.Error("шифротекст содержит открытый текст")
	}

	opened, err := c.Open(sealed1)
	if err != nil {
		t.Fatalf("Open() вернул ошибку: %v", err)
	}
	if !bytes.Equal(opened, plaintext) {
		t.Errorf("Open() = %q, ожидалось %q", opened, plaintext)
	}

	// Изменение шифротекста обнаруживается
	sealed1[len(sealed1)-1] ^= 0x01
	if _, err := c.Open(sealed1); err == nil {
		t.Error("ожидалась ошибка для изменённого шифротекста")
	}

	if _, err := c.Open([]byte{1, 2, 3}); !errors.Is(err, ErrCiphertextTooShort) {
		t.Errorf("ожидалась ErrCiphertextTooShort, получено %v", err)
	}
}

func TestXChaCha20Cipher_WrongKey(t *testing.T) {
	if _, err := NewXChaCha20Cipher([]byte("short")); err == nil {
		t.Fatal("ожидалась ошибка для короткого ключа")
	}

	a, _ := NewXChaCha20Cipher(bytes.Repeat([]byte{1}, 32))
	b, _ := NewXChaCha20Cipher(bytes.Repeat([]byte{2}, 32))

	sealed, _ := a.Seal([]byte("secret"))
	if _, err := b.Open(sealed); err == nil {
		t.Error("чужой ключ расшифровал данные")
	}
}

func TestNopCipher(t *testing.T) {
	data := []byte("as is")
	sealed, _ := NopCipher{}.Seal(data)
	opened, _ := NopCipher{}.Open(sealed)
	if !bytes.Equal(opened, data) {
		t.Errorf("NopCipher изменил данные: %q", opened)
	}
}
