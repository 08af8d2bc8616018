// =============================================================================
// 🧪 测试辅助函数
// =============================================================================
// 案例仓储夹具与断言，供各包测试共享
//
// 使用方法:
//
//	repo := testutil.SeededStore(t)
//	id := testutil.PendingID(t, repo, "John")
//	testutil.AssertResolved(t, repo, id, casestore.StatusResolvedSafe)
// =============================================================================
package testutil

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/casegate/casestore"
)

// TestContext 返回 30 秒超时、随测试结束取消的上下文
func TestContext(t *testing.T) context.Context {
	return TestContextWithTimeout(t, 30*time.Second)
}

// TestContextWithTimeout 同 TestContext，超时可调
func TestContextWithTimeout(t *testing.T, timeout time.Duration) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	t.Cleanup(cancel)
	return ctx
}

// =============================================================================
// 🗄️ 仓储夹具
// =============================================================================

// SeededStore 返回写入全部示例案例的内存仓储
func SeededStore(t *testing.T) *casestore.MemoryStore {
	t.Helper()

	repo := casestore.NewMemoryStore()
	t.Cleanup(func() { _ = repo.Close() })

	n, err := casestore.Seed(context.Background(), repo, casestore.SampleRecords(), nil)
	require.NoError(t, err, "seed store")
	require.Equal(t, len(casestore.SampleRecords()), n, "seed store")
	return repo
}

// PendingID 返回某身份当前 pending 记录的 ID
func PendingID(t *testing.T, repo casestore.Repository, identity string) string {
	t.Helper()

	rec, err := repo.FindPendingByIdentity(context.Background(), identity)
	require.NoErrorf(t, err, "find pending %q", identity)
	return rec.ID
}

// AssertResolved 断言记录已落到终态 want，且审计轨迹恰有一条 pending→want 事件
func AssertResolved(t *testing.T, repo casestore.Repository, id string, want casestore.Status) *casestore.Event {
	t.Helper()
	ctx := context.Background()

	rec, err := repo.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, want, rec.Status, "record status")

	events, err := repo.History(ctx, id)
	require.NoError(t, err)
	require.Len(t, events, 1, "one transition per case")
	assert.Equal(t, casestore.StatusPending, events[0].From)
	assert.Equal(t, want, events[0].To)
	return events[0]
}

// =============================================================================
// 🔍 断言辅助
// =============================================================================

// AssertJSONEqual 断言两个值序列化后的 JSON 等价
func AssertJSONEqual(t *testing.T, expected, actual any) {
	t.Helper()

	want, err := json.Marshal(expected)
	require.NoError(t, err)
	got, err := json.Marshal(actual)
	require.NoError(t, err)
	assert.JSONEq(t, string(want), string(got))
}

// AssertEventuallyTrue 每 10ms 轮询一次 condition，超时即失败
func AssertEventuallyTrue(t *testing.T, condition func() bool, timeout time.Duration) {
	t.Helper()
	assert.Eventually(t, condition, timeout, 10*time.Millisecond)
}
