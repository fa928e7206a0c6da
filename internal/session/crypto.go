package session

import (
	"bytes"
	"crypto/rand"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/scrypt"
)

var fileMagic = []byte("WXL1")

const saltSize = 16

// ErrCorruptBlob 文件头或密文无效
var ErrCorruptBlob = errors.New("会话文件已损坏")

// Crypto 会话文件加解密
// 文件格式: magic(4) | salt(16) | nonce(24) | ciphertext
type Crypto struct {
	key []byte // 口令
}

// NewCrypto 创建加解密器
func NewCrypto(licKey string) *Crypto {
	return &Crypto{key: []byte(licKey)}
}

func (c *Crypto) deriveKey(salt []byte) ([]byte, error) {
	return scrypt.Key(c.key, salt, 1<<15, 8, 1, chacha20poly1305.KeySize)
}

// Encrypt 每次加密使用新的salt与nonce
func (c *Crypto) Encrypt(plaintext []byte) ([]byte, error) {
	salt := make([]byte, saltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, fmt.Errorf("生成salt失败: %w", err)
	}
	key, err := c.deriveKey(salt)
	if err != nil {
		return nil, fmt.Errorf("派生密钥失败: %w", err)
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("生成nonce失败: %w", err)
	}

	header := append(append([]byte{}, fileMagic...), salt...)
	out := make([]byte, 0, len(header)+len(nonce)+len(plaintext)+aead.Overhead())
	out = append(out, header...)
	out = append(out, nonce...)
	return aead.Seal(out, nonce, plaintext, header), nil
}

// Decrypt 解密并校验文件头
func (c *Crypto) Decrypt(blob []byte) ([]byte, error) {
	headerLen := len(fileMagic) + saltSize
	if len(blob) < headerLen+chacha20poly1305.NonceSizeX || !bytes.HasPrefix(blob, fileMagic) {
		return nil, ErrCorruptBlob
	}
	header := blob[:headerLen]
	salt := header[len(fileMagic):]

	key, err := c.deriveKey(salt)
	if err != nil {
		return nil, fmt.Errorf("派生密钥失败: %w", err)
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}

	nonce := blob[headerLen : headerLen+aead.NonceSize()]
	plaintext, err := aead.Open(nil, nonce, blob[headerLen+aead.NonceSize():], header)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptBlob, err)
	}
	return plaintext, nil
}
