package config

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/betbot/tradesync/pkg/kvstore"
)

// 环境变量前缀
const envPrefix = "TRADESYNC_"

// APIConfig REST 后端配置
type APIConfig struct {
	BaseURL    string
	Timeout    time.Duration
	RetryCount int
	RateLimit  int           // 窗口内最大请求数，0 表示不限流
	RateWindow time.Duration // 限流窗口
	ProxyURL   string
}

// RealtimeConfig 推送频道配置
type RealtimeConfig struct {
	WSURL                string // 直连地址（自建 soketi 等）；为空时由 AppKey+Cluster 拼出
	AppKey               string
	Cluster              string
	AuthEndpoint         string // 为空时使用 {api.base_url}/broadcasting/auth
	PingInterval         time.Duration
	Reconnect            bool
	MaxReconnectAttempts int
}

// StoreConfig 本地持久化配置
type StoreConfig struct {
	Driver        string // badger | pebble | sqlite | file | memory
	Path          string
	EncryptionKey string // 32 bytes，hex 或 base64，仅 badger
}

// LogConfig 日志配置
type LogConfig struct {
	Level      string
	File       string
	MaxSize    int
	MaxBackups int
	MaxAge     int
	Compress   bool
}

// Config 应用配置
type Config struct {
	API      APIConfig
	Realtime RealtimeConfig
	Store    StoreConfig
	Log      LogConfig
	Symbols  []string // 需要保持最新的订单簿
}

var globalConfig *Config
var configFilePath string

// SetConfigPath 设置配置文件路径
func SetConfigPath(path string) {
	configFilePath = path
}

// GetConfigPath 获取配置文件路径
func GetConfigPath() string {
	return configFilePath
}

// ConfigFile 配置文件结构（用于 YAML/JSON 解析）
type ConfigFile struct {
	API struct {
		BaseURL    string `yaml:"base_url" json:"base_url"`
		Timeout    int    `yaml:"timeout" json:"timeout"` // 秒
		RetryCount *int   `yaml:"retry_count" json:"retry_count"`
		RateLimit  int    `yaml:"rate_limit" json:"rate_limit"`
		RateWindow int    `yaml:"rate_window" json:"rate_window"` // 秒
		Proxy      string `yaml:"proxy" json:"proxy"`
	} `yaml:"api" json:"api"`
	Realtime struct {
		WSURL                string `yaml:"ws_url" json:"ws_url"`
		AppKey               string `yaml:"app_key" json:"app_key"`
		Cluster              string `yaml:"cluster" json:"cluster"`
		AuthEndpoint         string `yaml:"auth_endpoint" json:"auth_endpoint"`
		PingInterval         int    `yaml:"ping_interval" json:"ping_interval"` // 秒
		Reconnect            *bool  `yaml:"reconnect" json:"reconnect"`
		MaxReconnectAttempts int    `yaml:"max_reconnect_attempts" json:"max_reconnect_attempts"`
	} `yaml:"realtime" json:"realtime"`
	Store struct {
		Driver        string `yaml:"driver" json:"driver"`
		Path          string `yaml:"path" json:"path"`
		EncryptionKey string `yaml:"encryption_key" json:"encryption_key"`
	} `yaml:"store" json:"store"`
	Log struct {
		Level      string `yaml:"level" json:"level"`
		File       string `yaml:"file" json:"file"`
		MaxSize    int    `yaml:"max_size" json:"max_size"`
		MaxBackups int    `yaml:"max_backups" json:"max_backups"`
		MaxAge     int    `yaml:"max_age" json:"max_age"`
		Compress   *bool  `yaml:"compress" json:"compress"`
	} `yaml:"log" json:"log"`
	Symbols []string `yaml:"symbols" json:"symbols"`
}

// Load 加载配置
func Load() (*Config, error) {
	return LoadFromFile(configFilePath)
}

// LoadFromFile 从指定文件加载配置（文件可选）
// 优先级：环境变量 > 配置文件 > 默认值
func LoadFromFile(filePath string) (*Config, error) {
	cf := &ConfigFile{}
	if filePath != "" {
		loaded, err := loadConfigFile(filePath)
		if err != nil {
			return nil, fmt.Errorf("加载配置文件失败 %s: %w", filePath, err)
		}
		cf = loaded
	}

	retryCount := 3
	if cf.API.RetryCount != nil {
		retryCount = *cf.API.RetryCount
	}
	reconnect := true
	if cf.Realtime.Reconnect != nil {
		reconnect = *cf.Realtime.Reconnect
	}
	compress := true
	if cf.Log.Compress != nil {
		compress = *cf.Log.Compress
	}

	config := &Config{
		API: APIConfig{
			BaseURL:    getEnv("API_BASE_URL", firstNonEmpty(cf.API.BaseURL, "http://localhost:8000/api")),
			Timeout:    seconds(parseIntEnv("API_TIMEOUT", positiveOr(cf.API.Timeout, 30))),
			RetryCount: parseIntEnv("API_RETRY_COUNT", retryCount),
			RateLimit:  parseIntEnv("API_RATE_LIMIT", cf.API.RateLimit),
			RateWindow: seconds(parseIntEnv("API_RATE_WINDOW", positiveOr(cf.API.RateWindow, 10))),
			ProxyURL:   getEnv("PROXY_URL", cf.API.Proxy),
		},
		Realtime: RealtimeConfig{
			WSURL:                getEnv("PUSHER_WS_URL", cf.Realtime.WSURL),
			AppKey:               getEnv("PUSHER_APP_KEY", cf.Realtime.AppKey),
			Cluster:              getEnv("PUSHER_CLUSTER", firstNonEmpty(cf.Realtime.Cluster, "mt1")),
			AuthEndpoint:         getEnv("PUSHER_AUTH_ENDPOINT", cf.Realtime.AuthEndpoint),
			PingInterval:         seconds(parseIntEnv("PUSHER_PING_INTERVAL", positiveOr(cf.Realtime.PingInterval, 30))),
			Reconnect:            parseBoolEnv("PUSHER_RECONNECT", reconnect),
			MaxReconnectAttempts: parseIntEnv("PUSHER_MAX_RECONNECT_ATTEMPTS", positiveOr(cf.Realtime.MaxReconnectAttempts, 10)),
		},
		Store: StoreConfig{
			Driver:        strings.ToLower(getEnv("STORE_DRIVER", firstNonEmpty(cf.Store.Driver, kvstore.DriverBadger))),
			Path:          getEnv("STORE_PATH", firstNonEmpty(cf.Store.Path, "data/session")),
			EncryptionKey: getEnv("STORE_ENCRYPTION_KEY", cf.Store.EncryptionKey),
		},
		Log: LogConfig{
			Level:      getEnv("LOG_LEVEL", firstNonEmpty(cf.Log.Level, "info")),
			File:       getEnv("LOG_FILE", firstNonEmpty(cf.Log.File, "logs/tradesync.log")),
			MaxSize:    parseIntEnv("LOG_MAX_SIZE", positiveOr(cf.Log.MaxSize, 100)),
			MaxBackups: parseIntEnv("LOG_MAX_BACKUPS", positiveOr(cf.Log.MaxBackups, 3)),
			MaxAge:     parseIntEnv("LOG_MAX_AGE", positiveOr(cf.Log.MaxAge, 7)),
			Compress:   parseBoolEnv("LOG_COMPRESS", compress),
		},
		Symbols: parseSymbols(cf.Symbols),
	}

	if config.Realtime.AuthEndpoint == "" {
		config.Realtime.AuthEndpoint = strings.TrimRight(config.API.BaseURL, "/") + "/broadcasting/auth"
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("配置验证失败: %w", err)
	}

	globalConfig = config
	configFilePath = filePath
	return config, nil
}

// loadConfigFile 加载配置文件（支持 YAML 和 JSON）
func loadConfigFile(filePath string) (*ConfigFile, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var cf ConfigFile
	switch strings.ToLower(filepath.Ext(filePath)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &cf); err != nil {
			return nil, fmt.Errorf("解析 YAML 配置文件失败: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, &cf); err != nil {
			return nil, fmt.Errorf("解析 JSON 配置文件失败: %w", err)
		}
	default:
		return nil, fmt.Errorf("不支持的配置文件格式: %s（仅支持 .yaml/.yml/.json）", filepath.Ext(filePath))
	}
	return &cf, nil
}

// Get 获取全局配置（如果已加载）
func Get() *Config {
	return globalConfig
}

// Validate 验证配置
func (c *Config) Validate() error {
	u, err := url.Parse(c.API.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("TRADESYNC_API_BASE_URL 无效: %q", c.API.BaseURL)
	}
	if c.API.Timeout <= 0 {
		return fmt.Errorf("TRADESYNC_API_TIMEOUT 必须大于 0")
	}
	if c.API.RetryCount < 0 {
		return fmt.Errorf("TRADESYNC_API_RETRY_COUNT 不能为负数")
	}
	if c.API.RateLimit < 0 {
		return fmt.Errorf("TRADESYNC_API_RATE_LIMIT 不能为负数")
	}
	if c.Realtime.WSURL == "" && c.Realtime.AppKey == "" {
		return fmt.Errorf("TRADESYNC_PUSHER_APP_KEY 未配置（或设置 TRADESYNC_PUSHER_WS_URL）")
	}

	switch c.Store.Driver {
	case kvstore.DriverBadger, kvstore.DriverPebble, kvstore.DriverSQLite, kvstore.DriverFile:
		if c.Store.Path == "" {
			return fmt.Errorf("TRADESYNC_STORE_PATH 不能为空")
		}
	case kvstore.DriverMemory:
	default:
		return fmt.Errorf("未知的存储驱动: %s", c.Store.Driver)
	}
	if c.Store.EncryptionKey != "" {
		if c.Store.Driver != kvstore.DriverBadger {
			return fmt.Errorf("只有 badger 驱动支持加密")
		}
		if _, err := kvstore.ParseKey(c.Store.EncryptionKey); err != nil {
			return fmt.Errorf("TRADESYNC_STORE_ENCRYPTION_KEY 无效: %w", err)
		}
	}
	return nil
}

// parseSymbols 环境变量（逗号分隔）优先，其次配置文件，默认 BTC,ETH
func parseSymbols(fromFile []string) []string {
	list := fromFile
	if raw := getEnv("SYMBOLS", ""); raw != "" {
		list = strings.Split(raw, ",")
	}
	result := make([]string, 0, len(list))
	seen := make(map[string]bool, len(list))
	for _, s := range list {
		s = strings.ToUpper(strings.TrimSpace(s))
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		result = append(result, s)
	}
	if len(result) == 0 {
		return []string{"BTC", "ETH"}
	}
	return result
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func positiveOr(v, def int) int {
	if v > 0 {
		return v
	}
	return def
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}

// getEnv 获取环境变量（自动加前缀），如果不存在则返回默认值
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(envPrefix + key); value != "" {
		return value
	}
	return defaultValue
}

// parseIntEnv 解析整数环境变量
func parseIntEnv(key string, defaultValue int) int {
	value := os.Getenv(envPrefix + key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return parsed
}

// parseBoolEnv 解析布尔环境变量
func parseBoolEnv(key string, defaultValue bool) bool {
	value := os.Getenv(envPrefix + key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return defaultValue
	}
	return parsed
}
