package utils

import "sync"

const (
	// Init 会话已创建，尚未开始处理请求
	Init = "init"
	// Serving 会话正在处理请求
	Serving = "serving"
	// TearingDown 会话正在清理资源
	TearingDown = "tearing-down"
	// Finish 会话结束状态
	Finish = "finish"
)

// StatusManager 记录会话的状态
type StatusManager struct {
	lock   sync.RWMutex
	status string
}

func NewStatusManager() *StatusManager {
	return &StatusManager{
		status: Init,
	}
}

func (s *StatusManager) Set(status string) {
	defer s.lock.Unlock()
	s.lock.Lock()
	s.status = status
}

func (s *StatusManager) Get() string {
	defer s.lock.RUnlock()
	s.lock.RLock()
	return s.status
}

// CompareAndSet moves to status only when the current status is one of from.
func (s *StatusManager) CompareAndSet(status string, from ...string) bool {
	defer s.lock.Unlock()
	s.lock.Lock()
	for _, f := range from {
		if s.status == f {
			s.status = status
			return true
		}
	}
	return false
}

func (s *StatusManager) Is(statusList ...string) bool {
	defer s.lock.RUnlock()
	s.lock.RLock()
	for _, status := range statusList {
		if s.status == status {
			return true
		}
	}
	return false
}
