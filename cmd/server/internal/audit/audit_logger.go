package audit

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
)

// AuditAction 审计日志操作类型
type AuditAction string

const (
	ActionCreateMeeting     AuditAction = "create_meeting"
	ActionRescheduleMeeting AuditAction = "reschedule_meeting"
	ActionCancelMeeting     AuditAction = "cancel_meeting"
	ActionEndMeeting        AuditAction = "end_meeting"
	ActionAdmitParticipant  AuditAction = "admit_participant"
	ActionDenyParticipant   AuditAction = "deny_participant"
	ActionKickParticipant   AuditAction = "kick_participant"
)

// AuditEntry 审计日志条目
type AuditEntry struct {
	Timestamp  time.Time   `json:"timestamp"`
	Operator   string      `json:"operator"`          // 操作者用户名
	Action     AuditAction `json:"action"`            // 操作类型
	ResourceID string      `json:"resource_id"`       // 资源标识 (meeting_id, username)
	Before     interface{} `json:"before,omitempty"`  // 操作前状态
	After      interface{} `json:"after,omitempty"`   // 操作后状态
	Details    string      `json:"details,omitempty"` // 额外详情
}

// AuditLogger 审计日志记录器接口
type AuditLogger interface {
	// LogAction 记录审计日志
	LogAction(operator string, action AuditAction, resourceID string, before, after interface{}, details string) error

	// LogActionSimple 记录简单审计日志 (不包含before/after)
	LogActionSimple(operator string, action AuditAction, resourceID string, details string) error
}

// FileAuditLogger 基于文件的审计日志实现，使用 lumberjack 按大小/天数轮转
type FileAuditLogger struct {
	mu     sync.Mutex
	logger *log.Logger
}

// NewFileAuditLogger creates an audit logger writing rotated JSONL to logPath.
func NewFileAuditLogger(logPath string) *FileAuditLogger {
	writer := &lumberjack.Logger{
		Filename:   logPath,
		MaxSize:    100, // MB
		MaxBackups: 10,  // Keep 10 old files
		MaxAge:     90,  // Meeting audit retention: 90 days
		Compress:   true,
	}

	return &FileAuditLogger{
		logger: log.New(writer, "", 0), // No prefix, no timestamp (entries carry their own)
	}
}

// LogAction 记录审计日志到轮转的 JSONL 文件
func (f *FileAuditLogger) LogAction(operator string, action AuditAction, resourceID string, before, after interface{}, details string) error {
	entry := AuditEntry{
		Timestamp:  time.Now().UTC(),
		Operator:   operator,
		Action:     action,
		ResourceID: resourceID,
		Before:     before,
		After:      after,
		Details:    details,
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.logger.Println(string(data))
	return nil
}

// LogActionSimple 记录简单审计日志
func (f *FileAuditLogger) LogActionSimple(operator string, action AuditAction, resourceID string, details string) error {
	return f.LogAction(operator, action, resourceID, nil, nil, details)
}

// NopAuditLogger discards every entry; used when auditing is disabled.
type NopAuditLogger struct{}

func (NopAuditLogger) LogAction(string, AuditAction, string, interface{}, interface{}, string) error {
	return nil
}

func (NopAuditLogger) LogActionSimple(string, AuditAction, string, string) error {
	return nil
}
