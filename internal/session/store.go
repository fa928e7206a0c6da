package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/RecoveryAshes/wxgather/internal/models"
	"github.com/RecoveryAshes/wxgather/internal/utils"
	"github.com/gobwas/glob"
)

const (
	payloadType       = "session"
	legacyPayloadType = "wx_mp_session"
)

// DefaultNoiseCookies 统计类cookie,不参与会话
var DefaultNoiseCookies = []string{"_clck"}

type storedPayload struct {
	Type    string          `json:"type"`
	Session *models.Session `json:"session"`
}

// Store 加密的会话文件,每次写入整体覆盖
type Store struct {
	path   string
	crypto *Crypto
	noise  []glob.Glob

	mu sync.Mutex
}

// NewStore 创建会话存储,noisePatterns 为glob模式(如 "_ga*")
func NewStore(path, licKey string, noisePatterns []string) (*Store, error) {
	if len(noisePatterns) == 0 {
		noisePatterns = DefaultNoiseCookies
	}
	noise := make([]glob.Glob, 0, len(noisePatterns))
	for _, p := range noisePatterns {
		g, err := glob.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("无效的cookie过滤规则 %q: %w", p, err)
		}
		noise = append(noise, g)
	}

	return &Store{
		path:   path,
		crypto: NewCrypto(licKey),
		noise:  noise,
	}, nil
}

// Path 会话文件路径
func (s *Store) Path() string {
	return s.path
}

func (s *Store) isNoise(name string) bool {
	for _, g := range s.noise {
		if g.Match(name) {
			return true
		}
	}
	return false
}

// sanitize 去掉噪声cookie并重建cookie头
func (s *Store) sanitize(sess *models.Session) *models.Session {
	out := sess.Clone()
	kept := make([]models.Cookie, 0, len(out.Cookies))
	for _, c := range out.Cookies {
		if s.isNoise(c.Name) {
			continue
		}
		kept = append(kept, c)
	}
	out.Cookies = kept
	out.CookiesHeader = CookieHeader(kept)
	if out.UpdatedAt == 0 {
		out.UpdatedAt = time.Now().Unix()
	}
	return out
}

// Save 加密写入
func (s *Store) Save(sess *models.Session) error {
	if sess == nil {
		return errors.New("会话为空")
	}

	data, err := json.Marshal(storedPayload{Type: payloadType, Session: s.sanitize(sess)})
	if err != nil {
		return fmt.Errorf("序列化会话失败: %w", err)
	}
	return s.writeEncrypted(data)
}

// Load 读取会话,文件缺失、解密或解析失败均返回nil
func (s *Store) Load() *models.Session {
	s.mu.Lock()
	blob, err := os.ReadFile(s.path)
	s.mu.Unlock()
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			utils.Warnf("读取会话文件失败: %v", err)
		}
		return nil
	}

	plain, err := s.crypto.Decrypt(blob)
	if err != nil {
		utils.Warnf("解密会话文件失败: %v", err)
		return nil
	}

	var payload storedPayload
	if err := json.Unmarshal(plain, &payload); err != nil {
		utils.Warnf("解析会话文件失败: %v", err)
		return nil
	}
	if payload.Session == nil {
		return nil
	}
	if payload.Type != payloadType && payload.Type != legacyPayloadType {
		utils.Warnf("未知的会话类型: %q", payload.Type)
		return nil
	}
	return s.sanitize(payload.Session)
}

// Clear 删除会话文件,删除失败时覆盖为加密的空对象
func (s *Store) Clear() error {
	s.mu.Lock()
	err := os.Remove(s.path)
	s.mu.Unlock()
	if err == nil || errors.Is(err, os.ErrNotExist) {
		return nil
	}

	utils.Warnf("删除会话文件失败, 改为写入空内容: %v", err)
	return s.writeEncrypted([]byte("{}"))
}

func (s *Store) writeEncrypted(data []byte) error {
	blob, err := s.crypto.Encrypt(data)
	if err != nil {
		return fmt.Errorf("加密会话失败: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return fmt.Errorf("创建会话目录失败: %w", err)
	}
	if err := os.WriteFile(s.path, blob, 0600); err != nil {
		return fmt.Errorf("写入会话文件失败: %w", err)
	}
	return nil
}
