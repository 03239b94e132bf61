package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config 统一配置结构
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Data      DataConfig      `yaml:"data"`
	Log       LogConfig       `yaml:"log"`
	Security  SecurityConfig  `yaml:"security"`
	Session   SessionConfig   `yaml:"session"`
	Transport TransportConfig `yaml:"transport"`
	OIDC      OIDCConfig      `yaml:"oidc"`
}

// ServerConfig 服务器配置
type ServerConfig struct {
	Env  string `yaml:"env"` // dev, staging, production
	Port string `yaml:"port"`
}

// DataConfig 数据存储配置
// Driver 为 "postgres" 时使用 DSN，否则使用 Dir 下的 JSON 文件存储
type DataConfig struct {
	Driver       string `yaml:"driver"` // file, postgres
	Dir          string `yaml:"dir"`
	PostgresDSN  string `yaml:"postgres_dsn"`
	AuditLogPath string `yaml:"audit_log_path"`
}

// LogConfig 日志配置
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // console, json
}

// SecurityConfig 安全配置
type SecurityConfig struct {
	JWTSecret            string   `yaml:"jwt_secret"`
	RoomTokenSecret      string   `yaml:"room_token_secret"`
	AdminDefaultPassword string   `yaml:"admin_default_password"`
	CORSAllowedOrigins   []string `yaml:"cors_allowed_origins"`
}

// SessionConfig 会话编排策略
type SessionConfig struct {
	// JoinTokenTTL 入会凭证有效期
	JoinTokenTTL time.Duration `yaml:"join_token_ttl"`
	// WaitingTimeout 等候室停留上限，0 表示不限
	WaitingTimeout time.Duration `yaml:"waiting_timeout"`
	// EmptyMeetingTimeout 会议空置宽限期，0 表示最后一人离开立即结束
	EmptyMeetingTimeout time.Duration `yaml:"empty_meeting_timeout"`
	// CoHostMayEnd 联席主持人是否可以结束会议
	CoHostMayEnd bool `yaml:"co_host_may_end"`
	// JanitorInterval 后台巡检周期
	JanitorInterval time.Duration `yaml:"janitor_interval"`
}

// TransportConfig 媒体传输层配置
type TransportConfig struct {
	// MaxConcurrentConnects 并发连接协商上限
	MaxConcurrentConnects int64 `yaml:"max_concurrent_connects"`
}

// OIDCConfig 可选的 OIDC 单点登录配置；IssuerURL 为空时禁用
type OIDCConfig struct {
	IssuerURL    string `yaml:"issuer_url"`
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	RedirectURL  string `yaml:"redirect_url"`
}

// GlobalConfig 全局配置实例
var GlobalConfig *Config

// LoadConfig 从环境变量加载配置；CONFIG_FILE 指向的 YAML 文件优先生效
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Env:  getEnv("ENV", "dev"),
			Port: getEnv("PORT", "8000"),
		},
		Data: DataConfig{
			Driver:       getEnv("STORE_DRIVER", "file"),
			Dir:          getEnv("DATA_DIR", "./data"),
			PostgresDSN:  getEnv("POSTGRES_DSN", ""),
			AuditLogPath: getEnv("AUDIT_LOG_PATH", "./audit_logs/meetings.log"),
		},
		Log: LogConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "console"),
		},
		Security: SecurityConfig{
			JWTSecret:            getEnv("USER_JWT_SECRET", ""),
			RoomTokenSecret:      getEnv("ROOM_TOKEN_SECRET", ""),
			AdminDefaultPassword: getEnv("ADMIN_DEFAULT_PASSWORD", ""),
			CORSAllowedOrigins:   parseStringList(getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:3000,http://localhost:5173")),
		},
		Session: SessionConfig{
			JoinTokenTTL:        getEnvDuration("JOIN_TOKEN_TTL", 5*time.Minute),
			WaitingTimeout:      getEnvDuration("WAITING_TIMEOUT", 0),
			EmptyMeetingTimeout: getEnvDuration("EMPTY_MEETING_TIMEOUT", 0),
			CoHostMayEnd:        getEnvBool("CO_HOST_MAY_END", true),
			JanitorInterval:     getEnvDuration("JANITOR_INTERVAL", 15*time.Second),
		},
		Transport: TransportConfig{
			MaxConcurrentConnects: getEnvInt64("MAX_CONCURRENT_CONNECTS", 64),
		},
		OIDC: OIDCConfig{
			IssuerURL:    getEnv("OIDC_ISSUER_URL", ""),
			ClientID:     getEnv("OIDC_CLIENT_ID", ""),
			ClientSecret: getEnv("OIDC_CLIENT_SECRET", ""),
			RedirectURL:  getEnv("OIDC_REDIRECT_URL", ""),
		},
	}

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := applyFile(cfg, path); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	GlobalConfig = cfg
	return cfg, nil
}

// applyFile 用 YAML 文件中的值覆盖环境变量配置
func applyFile(cfg *Config, path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(b, cfg)
}

// ValidateConfig 验证配置的有效性
func ValidateConfig(cfg *Config) error {
	var errors []string

	// 1. JWT Secret 验证
	if cfg.Security.JWTSecret == "" {
		errors = append(errors, "USER_JWT_SECRET is required")
	} else if len(cfg.Security.JWTSecret) < 32 {
		errors = append(errors, "USER_JWT_SECRET must be at least 32 characters long")
	}
	if cfg.Security.RoomTokenSecret == "" {
		errors = append(errors, "ROOM_TOKEN_SECRET is required")
	}

	// 2. 生产环境必须配置管理员密码
	if cfg.Server.Env == "production" {
		if cfg.Security.AdminDefaultPassword == "" {
			errors = append(errors, "ADMIN_DEFAULT_PASSWORD is required in production environment")
		}
		if cfg.Security.AdminDefaultPassword == "admin123" ||
			cfg.Security.AdminDefaultPassword == "changeme" {
			errors = append(errors, "ADMIN_DEFAULT_PASSWORD cannot be a weak/default password in production")
		}
		if len(cfg.Security.AdminDefaultPassword) < 8 {
			errors = append(errors, "ADMIN_DEFAULT_PASSWORD must be at least 8 characters long in production")
		}
	}

	// 3. 存储驱动验证
	switch cfg.Data.Driver {
	case "file":
		if cfg.Data.Dir == "" {
			errors = append(errors, "DATA_DIR is required for the file store")
		}
	case "postgres":
		if cfg.Data.PostgresDSN == "" {
			errors = append(errors, "POSTGRES_DSN is required for the postgres store")
		}
	default:
		errors = append(errors, fmt.Sprintf("invalid STORE_DRIVER: %s (must be: file, postgres)", cfg.Data.Driver))
	}

	// 4. 端口验证
	if port, err := strconv.Atoi(cfg.Server.Port); err != nil || port < 1 || port > 65535 {
		errors = append(errors, fmt.Sprintf("invalid PORT value: %s (must be 1-65535)", cfg.Server.Port))
	}

	// 5. 日志级别验证
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[cfg.Log.Level] {
		errors = append(errors, fmt.Sprintf("invalid LOG_LEVEL: %s (must be: debug, info, warn, error)", cfg.Log.Level))
	}

	// 6. 日志格式验证
	validLogFormats := map[string]bool{"console": true, "json": true}
	if !validLogFormats[cfg.Log.Format] {
		errors = append(errors, fmt.Sprintf("invalid LOG_FORMAT: %s (must be: console, json)", cfg.Log.Format))
	}

	// 7. 环境验证
	validEnvs := map[string]bool{"dev": true, "development": true, "staging": true, "production": true}
	if !validEnvs[cfg.Server.Env] {
		errors = append(errors, fmt.Sprintf("invalid ENV: %s (must be: dev, development, staging, production)", cfg.Server.Env))
	}

	// 8. 会话策略验证
	if cfg.Session.JoinTokenTTL < 0 || cfg.Session.WaitingTimeout < 0 || cfg.Session.EmptyMeetingTimeout < 0 {
		errors = append(errors, "session timeouts must not be negative")
	}

	// 9. OIDC 要么整体配置要么整体留空
	if cfg.OIDC.IssuerURL != "" && (cfg.OIDC.ClientID == "" || cfg.OIDC.ClientSecret == "") {
		errors = append(errors, "OIDC_CLIENT_ID and OIDC_CLIENT_SECRET are required when OIDC_ISSUER_URL is set")
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n  - %s", strings.Join(errors, "\n  - "))
	}

	return nil
}

// IsProduction 判断是否为生产环境
func (c *Config) IsProduction() bool {
	return c.Server.Env == "production"
}

// IsDevelopment 判断是否为开发环境
func (c *Config) IsDevelopment() bool {
	return c.Server.Env == "dev" || c.Server.Env == "development"
}

// GetServerAddr 获取服务器监听地址
func (c *Config) GetServerAddr() string {
	return ":" + c.Server.Port
}

// OIDCEnabled 是否启用单点登录
func (c *Config) OIDCEnabled() bool {
	return c.OIDC.IssuerURL != ""
}

// PrintConfig 打印配置（脱敏）
func (c *Config) PrintConfig() string {
	return fmt.Sprintf(`Configuration Loaded:
  Environment: %s
  Server Port: %s
  Store:
    - Driver: %s
    - Dir: %s
    - Postgres DSN: %s
    - Audit Log: %s
  Logging:
    - Level: %s
    - Format: %s
  Security:
    - JWT Secret: %s
    - Room Token Secret: %s
    - CORS Origins: %v
  Session:
    - Join Token TTL: %s
    - Waiting Timeout: %s
    - Empty Meeting Timeout: %s
    - Co-host May End: %t
  OIDC:
    - Issuer: %s`,
		c.Server.Env,
		c.Server.Port,
		c.Data.Driver,
		c.Data.Dir,
		maskSecret(c.Data.PostgresDSN),
		c.Data.AuditLogPath,
		c.Log.Level,
		c.Log.Format,
		maskSecret(c.Security.JWTSecret),
		maskSecret(c.Security.RoomTokenSecret),
		c.Security.CORSAllowedOrigins,
		c.Session.JoinTokenTTL,
		c.Session.WaitingTimeout,
		c.Session.EmptyMeetingTimeout,
		c.Session.CoHostMayEnd,
		c.OIDC.IssuerURL,
	)
}

// 辅助函数

// getEnv 获取环境变量，如果不存在则返回默认值
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvDuration 解析时长环境变量，非法值回退默认
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

// getEnvBool 解析布尔环境变量
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

// getEnvInt64 解析整数环境变量
func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.ParseInt(value, 10, 64); err == nil {
			return n
		}
	}
	return defaultValue
}

// parseStringList 解析逗号分隔的字符串列表
func parseStringList(value string) []string {
	if value == "" {
		return []string{}
	}
	parts := strings.Split(value, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

// maskSecret 对敏感信息进行脱敏
func maskSecret(secret string) string {
	if secret == "" {
		return "<not set>"
	}
	if len(secret) <= 8 {
		return "***"
	}
	return secret[:4] + "***" + secret[len(secret)-4:]
}
