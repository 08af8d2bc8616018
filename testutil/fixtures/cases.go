// =============================================================================
// 📋 案例测试数据
// =============================================================================
// 预置的待核实案例，字段与 casestore.SampleRecords 一致
//
// 使用方法:
//
//	rec := fixtures.NewCase("Alice").WithAnswer("Blue").Build()
// =============================================================================
package fixtures

import (
	"maps"

	"github.com/BaSui01/casegate/casestore"
)

// CaseBuilder 构造测试用 Record
type CaseBuilder struct {
	rec casestore.Record
}

// NewCase 返回带完整描述字段的 pending 案例
func NewCase(identity string) *CaseBuilder {
	return &CaseBuilder{rec: casestore.Record{
		IdentityKey:    identity,
		Status:         casestore.StatusPending,
		Challenge:      "What is the name of your first school?",
		ExpectedAnswer: "Riverside",
		Fields: map[string]string{
			casestore.FieldSecurityIdentifier:  "24680",
			casestore.FieldCardEnding:          "9876",
			casestore.FieldTransactionName:     "Night Owl Electronics",
			casestore.FieldTransactionTime:     "2024-11-27 02:10:00",
			casestore.FieldTransactionCategory: "electronics",
			casestore.FieldTransactionSource:   "nightowl.example",
			casestore.FieldTransactionAmount:   "849.00",
			casestore.FieldTransactionLocation: "Lagos, Nigeria",
		},
	}}
}

// WithID 指定记录 ID
func (b *CaseBuilder) WithID(id string) *CaseBuilder {
	b.rec.ID = id
	return b
}

// WithChallenge 设置挑战问题
func (b *CaseBuilder) WithChallenge(q string) *CaseBuilder {
	b.rec.Challenge = q
	return b
}

// WithAnswer 设置预期答案
func (b *CaseBuilder) WithAnswer(a string) *CaseBuilder {
	b.rec.ExpectedAnswer = a
	return b
}

// WithStatus 设置状态
func (b *CaseBuilder) WithStatus(s casestore.Status) *CaseBuilder {
	b.rec.Status = s
	return b
}

// WithField 设置描述字段
func (b *CaseBuilder) WithField(name, value string) *CaseBuilder {
	b.rec.Fields[name] = value
	return b
}

// Build 返回独立的 Record 副本
func (b *CaseBuilder) Build() *casestore.Record {
	out := b.rec
	out.Fields = maps.Clone(b.rec.Fields)
	return &out
}

// SampleIdentities 示例数据中的身份标识
func SampleIdentities() []string {
	out := make([]string, 0, 3)
	for _, rec := range casestore.SampleRecords() {
		out = append(out, rec.IdentityKey)
	}
	return out
}
