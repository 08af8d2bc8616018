package casestore

import (
	"context"
	"fmt"
	"maps"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jinzhu/copier"

	"github.com/BaSui01/casegate/types"
)

// Status is the lifecycle status of a task record.
type Status string

const (
	StatusPending         Status = "pending"
	StatusResolvedSafe    Status = "resolved-safe"
	StatusResolvedAdverse Status = "resolved-adverse"
)

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusResolvedSafe, StatusResolvedAdverse:
		return true
	}
	return false
}

// IsTerminal reports whether no further transition is expected from s.
func (s Status) IsTerminal() bool {
	return s == StatusResolvedSafe || s == StatusResolvedAdverse
}

// Record is the persisted unit of work, e.g. a suspicious-transaction case.
type Record struct {
	ID             string            `json:"id" bson:"_id"`
	IdentityKey    string            `json:"identity_key" bson:"identity_key"`
	Status         Status            `json:"status" bson:"status"`
	Challenge      string            `json:"challenge" bson:"challenge"`
	ExpectedAnswer string            `json:"expected_answer" bson:"expected_answer"`
	Fields         map[string]string `json:"descriptive_fields" bson:"descriptive_fields"`
	OutcomeNote    string            `json:"outcome_note" bson:"outcome_note"`
	CreatedAt      time.Time         `json:"created_at" bson:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at" bson:"updated_at"`
}

// Clone returns a deep copy so callers never share the stored map.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	out := &Record{}
	if err := copier.CopyWithOption(out, r, copier.Option{DeepCopy: true}); err != nil {
		*out = *r
		out.Fields = maps.Clone(r.Fields)
	}
	return out
}

// Field returns a descriptive field or "" when absent.
func (r *Record) Field(name string) string {
	if r == nil || r.Fields == nil {
		return ""
	}
	return r.Fields[name]
}

// Redacted returns a copy without the expected answer, for diagnostic listings.
func (r *Record) Redacted() *Record {
	out := r.Clone()
	if out != nil && out.ExpectedAnswer != "" {
		out.ExpectedAnswer = "[redacted]"
	}
	return out
}

// Event is one entry of a record's audit trail.
type Event struct {
	ID       string    `json:"id" bson:"id"`
	RecordID string    `json:"record_id" bson:"record_id"`
	From     Status    `json:"from" bson:"from"`
	To       Status    `json:"to" bson:"to"`
	Note     string    `json:"note" bson:"note"`
	Actor    string    `json:"actor,omitempty" bson:"actor,omitempty"`
	At       time.Time `json:"at" bson:"at"`
}

// newEvent 构造状态迁移审计事件，操作者取自 context
func newEvent(ctx context.Context, recordID string, from, to Status, note string, at time.Time) *Event {
	return &Event{
		ID:       uuid.New().String(),
		RecordID: recordID,
		From:     from,
		To:       to,
		Note:     note,
		Actor:    actorFromContext(ctx),
		At:       at,
	}
}

func actorFromContext(ctx context.Context) string {
	if id, ok := types.OperatorID(ctx); ok {
		return id
	}
	if id, ok := types.SessionID(ctx); ok {
		return "session:" + id
	}
	return ""
}

// prepareNew 在副本上校验并补全 ID、状态与时间戳; 调用方的记录在写入成功前保持不变
func prepareNew(rec *Record, now time.Time) (*Record, error) {
	if rec == nil {
		return nil, ErrInvalidInput
	}
	out := rec.Clone()
	out.IdentityKey = strings.TrimSpace(out.IdentityKey)
	if out.IdentityKey == "" {
		return nil, fmt.Errorf("%w: identity key is required", ErrInvalidInput)
	}
	if out.Status == "" {
		out.Status = StatusPending
	}
	if !out.Status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidInput, out.Status)
	}
	if out.ID == "" {
		out.ID = uuid.New().String()
	}
	if out.Fields == nil {
		out.Fields = make(map[string]string)
	}
	if out.CreatedAt.IsZero() {
		out.CreatedAt = now
	}
	out.UpdatedAt = now
	return out, nil
}

// adopt 写入成功后把生成的元数据回填给调用方
func (r *Record) adopt(saved *Record) {
	r.ID = saved.ID
	r.IdentityKey = saved.IdentityKey
	r.Status = saved.Status
	r.CreatedAt = saved.CreatedAt
	r.UpdatedAt = saved.UpdatedAt
	if r.Fields == nil {
		r.Fields = saved.Fields
	}
}

// checkUpdate 校验 UpdateStatus 的输入
func checkUpdate(id string, status Status) error {
	if id == "" {
		return fmt.Errorf("%w: record id is required", ErrInvalidInput)
	}
	if !status.IsTerminal() {
		return fmt.Errorf("%w: %q is not a terminal status", ErrInvalidInput, status)
	}
	return nil
}
