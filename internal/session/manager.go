package session

import (
	"sync"

	"github.com/RecoveryAshes/wxgather/internal/models"
	"github.com/RecoveryAshes/wxgather/internal/utils"
)

// Manager 维护内存中的登录标记,并代理持久化操作
type Manager struct {
	store *Store

	mu       sync.Mutex
	loggedIn bool
}

// NewManager 创建会话管理器
func NewManager(store *Store) *Manager {
	return &Manager{store: store}
}

// SetLoggedIn 设置登录标记
func (m *Manager) SetLoggedIn(v bool) {
	m.mu.Lock()
	m.loggedIn = v
	m.mu.Unlock()
}

// LoggedIn 读取登录标记
func (m *Manager) LoggedIn() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.loggedIn
}

// Clear 仅清除内存标记,不动持久化文件
func (m *Manager) Clear() {
	m.SetLoggedIn(false)
}

// LoadPersisted 读取持久化会话
func (m *Manager) LoadPersisted() *models.Session {
	return m.store.Load()
}

// SavePersisted 写入持久化会话,失败只记录日志
func (m *Manager) SavePersisted(s *models.Session) bool {
	if err := m.store.Save(s); err != nil {
		utils.Error(err, "保存会话失败")
		return false
	}
	utils.Debugf("会话已保存: cookies=%s", s.CookieNames())
	return true
}

// ClearPersisted 清除持久化会话,失败只记录日志
func (m *Manager) ClearPersisted() bool {
	if err := m.store.Clear(); err != nil {
		utils.Error(err, "清除会话失败")
		return false
	}
	return true
}
