package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// User 用户身份 + 余额快照
//
// 只能通过 SessionStore.UpdateUser 整体替换，不做部分字段修补。
type User struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Email     string          `json:"email"`
	Balance   decimal.Decimal `json:"balance"`
	CreatedAt time.Time       `json:"created_at"`
}

// Asset 单个币种的余额快照
type Asset struct {
	ID           string          `json:"id"`
	Symbol       Symbol          `json:"symbol"`
	Amount       decimal.Decimal `json:"amount"`
	LockedAmount decimal.Decimal `json:"locked_amount"`
	Available    decimal.Decimal `json:"available"`
}

// Session 当前认证会话（user 与 token 必须同时存在或同时为空）
type Session struct {
	User  *User
	Token string
}

// Empty 会话是否为空
func (s Session) Empty() bool {
	return s.User == nil && s.Token == ""
}

// Valid 检查 token/user 成对出现的不变量
func (s Session) Valid() bool {
	return (s.User == nil) == (strings.TrimSpace(s.Token) == "")
}

// Clone 返回深拷贝（User 指针不与内部共享）
func (s Session) Clone() Session {
	out := Session{Token: s.Token}
	if s.User != nil {
		u := *s.User
		out.User = &u
	}
	return out
}

// AuthResult 登录/注册接口返回的数据
type AuthResult struct {
	User  *User  `json:"user"`
	Token string `json:"token"`
}

// RegisterRequest 注册请求体
type RegisterRequest struct {
	Name                 string `json:"name"`
	Email                string `json:"email"`
	Password             string `json:"password"`
	PasswordConfirmation string `json:"password_confirmation"`
}

// LoginRequest 登录请求体
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Profile /profile 接口返回的数据
type Profile struct {
	User   *User   `json:"user"`
	Assets []Asset `json:"assets"`
}
