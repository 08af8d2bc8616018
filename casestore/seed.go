package casestore

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
)

// 描述字段名，与 dispatcher 的默认披露模板对应
const (
	FieldCardEnding          = "card_ending"
	FieldSecurityIdentifier  = "security_identifier"
	FieldTransactionName     = "transaction_name"
	FieldTransactionTime     = "transaction_time"
	FieldTransactionCategory = "transaction_category"
	FieldTransactionSource   = "transaction_source"
	FieldTransactionAmount   = "transaction_amount"
	FieldTransactionLocation = "transaction_location"
)

// SampleRecords returns the demonstration cases seeded into an empty store.
// A fresh slice is built on every call.
func SampleRecords() []*Record {
	return []*Record{
		{
			IdentityKey:    "John",
			Status:         StatusPending,
			Challenge:      "What is your mother's maiden name?",
			ExpectedAnswer: "Smith",
			Fields: map[string]string{
				FieldSecurityIdentifier:  "12345",
				FieldCardEnding:          "4242",
				FieldTransactionName:     "ABC Industry",
				FieldTransactionTime:     "2024-11-26 14:30:00",
				FieldTransactionCategory: "e-commerce",
				FieldTransactionSource:   "alibaba.com",
				FieldTransactionAmount:   "299.99",
				FieldTransactionLocation: "Shanghai, China",
			},
		},
		{
			IdentityKey:    "Sarah",
			Status:         StatusPending,
			Challenge:      "What was your first pet's name?",
			ExpectedAnswer: "Fluffy",
			Fields: map[string]string{
				FieldSecurityIdentifier:  "67890",
				FieldCardEnding:          "8765",
				FieldTransactionName:     "Luxury Goods Store",
				FieldTransactionTime:     "2024-11-26 09:15:00",
				FieldTransactionCategory: "retail",
				FieldTransactionSource:   "luxurystore.com",
				FieldTransactionAmount:   "1299.99",
				FieldTransactionLocation: "Paris, France",
			},
		},
		{
			IdentityKey:    "Mike",
			Status:         StatusPending,
			Challenge:      "What city were you born in?",
			ExpectedAnswer: "Chicago",
			Fields: map[string]string{
				FieldSecurityIdentifier:  "11111",
				FieldCardEnding:          "1234",
				FieldTransactionName:     "Gaming Platform",
				FieldTransactionTime:     "2024-11-25 23:45:00",
				FieldTransactionCategory: "gaming",
				FieldTransactionSource:   "gaming-platform.com",
				FieldTransactionAmount:   "99.99",
				FieldTransactionLocation: "Los Angeles, CA",
			},
		},
	}
}

// Seed 向空存储写入示例记录，可重复调用。
// 存储中出现示例以外的身份时整体跳过; 否则只补写尚无任何记录（含已结案）的示例身份，
// 因此中途失败后再次调用会补齐剩余部分。返回本次实际写入的条数。
func Seed(ctx context.Context, repo Repository, records []*Record, logger *zap.Logger) (int, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	existing, err := repo.ListAll(ctx)
	if err != nil {
		return 0, fmt.Errorf("list records: %w", err)
	}
	seedSet := make(map[string]struct{}, len(records))
	for _, rec := range records {
		seedSet[rec.IdentityKey] = struct{}{}
	}
	present := make(map[string]struct{}, len(existing))
	for _, rec := range existing {
		if _, ok := seedSet[rec.IdentityKey]; !ok {
			// 存储里有运营数据，不再混入示例
			logger.Debug("case store holds non-sample records, skipping seed", zap.Int("existing", len(existing)))
			return 0, nil
		}
		present[rec.IdentityKey] = struct{}{}
	}

	inserted := 0
	for _, rec := range records {
		if _, ok := present[rec.IdentityKey]; ok {
			continue
		}
		err := repo.Create(ctx, rec)
		switch {
		case err == nil:
			present[rec.IdentityKey] = struct{}{}
			inserted++
		case errors.Is(err, ErrAlreadyExists):
			// 并发启动的另一实例已写入
			present[rec.IdentityKey] = struct{}{}
		default:
			return inserted, fmt.Errorf("seed record for %q: %w", rec.IdentityKey, err)
		}
	}

	if inserted == 0 {
		logger.Debug("case store already populated, skipping seed", zap.Int("existing", len(existing)))
		return 0, nil
	}
	logger.Info("seeded sample case records", zap.Int("count", inserted))
	return inserted, nil
}
