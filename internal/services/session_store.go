package services

import (
	"context"
	"encoding/json"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/betbot/tradesync/internal/domain"
	"github.com/betbot/tradesync/internal/ports"
)

var log = logrus.WithField("component", "services")

// 持久化键
const (
	KeyAuthToken = "auth_token"
	KeyUser      = "user"
)

var (
	// ErrNoSession 当前没有会话
	ErrNoSession = errors.New("no active session")
	// ErrNotAuthenticated 操作需要已认证的会话
	ErrNotAuthenticated = errors.New("not authenticated")
)

// SessionStore 会话（user + token）的唯一持有者。
//
// 所有会话变迁（恢复/登录/注册/登出/更新用户）由 transMu 串行化；
// 监听器在变迁的调用 goroutine 上同步执行，触发方法返回前即已完成。
type SessionStore struct {
	api   ports.APIClient
	store ports.KeyValueStore

	transMu sync.Mutex

	mu      sync.RWMutex
	session domain.Session

	epoch Epoch

	listenersMu sync.RWMutex
	listeners   []ports.SessionListener
}

func NewSessionStore(api ports.APIClient, store ports.KeyValueStore) *SessionStore {
	return &SessionStore{api: api, store: store}
}

// AddListener 注册会话监听器
func (s *SessionStore) AddListener(l ports.SessionListener) {
	if l == nil {
		return
	}
	s.listenersMu.Lock()
	s.listeners = append(s.listeners, l)
	s.listenersMu.Unlock()
}

// Epoch 当前会话代号
func (s *SessionStore) Epoch() uint64 { return s.epoch.Current() }

// Session 返回会话副本
func (s *SessionStore) Session() domain.Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.session.Clone()
}

// Token 当前 token（未登录为空）
func (s *SessionStore) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.session.Token
}

// User 当前用户副本（未登录为 nil）
func (s *SessionStore) User() *domain.User {
	return s.Session().User
}

func (s *SessionStore) IsAuthenticated() bool {
	return s.Token() != ""
}

// Initialize 从本地存储恢复会话。
// token 与 user 只有其一（或 user 无法解析）视为损坏状态：清除两者，不返回错误。
func (s *SessionStore) Initialize(ctx context.Context) error {
	s.transMu.Lock()
	defer s.transMu.Unlock()

	token, hasToken, err := s.store.Get(KeyAuthToken)
	if err != nil {
		return errors.Wrap(err, "read persisted token")
	}
	rawUser, hasUser, err := s.store.Get(KeyUser)
	if err != nil {
		return errors.Wrap(err, "read persisted user")
	}
	token = strings.TrimSpace(token)
	hasToken = hasToken && token != ""
	hasUser = hasUser && strings.TrimSpace(rawUser) != "" && strings.TrimSpace(rawUser) != "null"

	if !hasToken && !hasUser {
		log.Debug("没有持久化的会话")
		return nil
	}

	var user *domain.User
	if hasUser {
		user = new(domain.User)
		if err := json.Unmarshal([]byte(rawUser), user); err != nil {
			log.Warnf("⚠️ 持久化的用户数据无法解析: %v", err)
			user = nil
		}
	}

	if !hasToken || user == nil {
		log.WithFields(logrus.Fields{"has_token": hasToken, "has_user": user != nil}).
			Warn("⚠️ 持久化会话不完整，清除本地会话数据")
		s.purge()
		return nil
	}

	sess := domain.Session{User: user, Token: token}
	s.setSession(sess)
	epoch := s.epoch.Bump()
	log.WithFields(logrus.Fields{"user_id": user.ID, "epoch": epoch}).Info("✅ 已恢复会话")

	s.notifyEstablished(ctx, sess)
	return nil
}

// Login 登录；失败时会话、存储与实时频道均保持不变
func (s *SessionStore) Login(ctx context.Context, email, password string) (domain.Session, error) {
	return s.authenticate(ctx, "/auth/login", domain.LoginRequest{Email: email, Password: password})
}

// Register 注册并登录
func (s *SessionStore) Register(ctx context.Context, req domain.RegisterRequest) (domain.Session, error) {
	return s.authenticate(ctx, "/auth/register", req)
}

func (s *SessionStore) authenticate(ctx context.Context, path string, body any) (domain.Session, error) {
	s.transMu.Lock()
	defer s.transMu.Unlock()

	var res domain.AuthResult
	if err := s.api.Post(ctx, path, body, &res); err != nil {
		return domain.Session{}, err
	}
	if res.User == nil || strings.TrimSpace(res.Token) == "" {
		return domain.Session{}, errors.Errorf("%s: response is missing user or token", path)
	}

	sess := domain.Session{User: res.User, Token: res.Token}
	s.setSession(sess)
	epoch := s.epoch.Bump()
	// 持久化失败只回滚存储，内存会话照常建立
	_ = s.persist(sess)

	log.WithFields(logrus.Fields{"user_id": sess.User.ID, "epoch": epoch, "path": path}).Info("✅ 会话已建立")
	s.notifyEstablished(ctx, sess)
	return sess.Clone(), nil
}

// Logout 登出：服务端通知尽力而为（失败只记日志），本地清理无条件执行
func (s *SessionStore) Logout(ctx context.Context) {
	s.transMu.Lock()
	defer s.transMu.Unlock()

	if err := s.api.Post(ctx, "/auth/logout", nil, nil); err != nil {
		log.Warnf("⚠️ 服务端登出失败（忽略）: %v", err)
	}

	s.setSession(domain.Session{})
	epoch := s.epoch.Bump()
	s.purge()

	log.WithField("epoch", epoch).Info("会话已结束")
	s.notifyEnded(ctx)
}

// UpdateUser 整体替换当前用户并重新持久化，不影响 token
func (s *SessionStore) UpdateUser(user *domain.User) error {
	s.transMu.Lock()
	defer s.transMu.Unlock()
	return s.updateUserLocked(user)
}

// UpdateUserAt 仅当会话代号仍为 epoch 时替换用户
func (s *SessionStore) UpdateUserAt(epoch uint64, user *domain.User) (bool, error) {
	s.transMu.Lock()
	defer s.transMu.Unlock()
	if s.epoch.Current() != epoch {
		return false, nil
	}
	if err := s.updateUserLocked(user); err != nil {
		return false, err
	}
	return true, nil
}

func (s *SessionStore) updateUserLocked(user *domain.User) error {
	if user == nil {
		return errors.New("user is nil")
	}
	u := *user

	s.mu.Lock()
	if s.session.Token == "" {
		s.mu.Unlock()
		return ErrNoSession
	}
	s.session.User = &u
	sess := s.session.Clone()
	s.mu.Unlock()

	return s.persist(sess)
}

func (s *SessionStore) setSession(sess domain.Session) {
	s.mu.Lock()
	s.session = sess.Clone()
	s.mu.Unlock()
}

// persist 写入 token 与 user；任一失败则尽力删除两者，保持"同时存在或同时缺失"
func (s *SessionStore) persist(sess domain.Session) error {
	raw, err := json.Marshal(sess.User)
	if err == nil {
		err = s.store.Set(KeyAuthToken, sess.Token)
	}
	if err == nil {
		err = s.store.Set(KeyUser, string(raw))
	}
	if err != nil {
		log.Errorf("持久化会话失败，回滚本地存储: %v", err)
		s.purge()
		return errors.Wrap(err, "persist session")
	}
	return nil
}

func (s *SessionStore) purge() {
	for _, key := range []string{KeyAuthToken, KeyUser} {
		if err := s.store.Delete(key); err != nil {
			log.Warnf("删除持久化键 %s 失败: %v", key, err)
		}
	}
}

func (s *SessionStore) snapshotListeners() []ports.SessionListener {
	s.listenersMu.RLock()
	defer s.listenersMu.RUnlock()
	out := make([]ports.SessionListener, len(s.listeners))
	copy(out, s.listeners)
	return out
}

func (s *SessionStore) notifyEstablished(ctx context.Context, sess domain.Session) {
	for _, l := range s.snapshotListeners() {
		l.OnSessionEstablished(ctx, sess.Clone())
	}
}

func (s *SessionStore) notifyEnded(ctx context.Context) {
	for _, l := range s.snapshotListeners() {
		l.OnSessionEnded(ctx)
	}
}
