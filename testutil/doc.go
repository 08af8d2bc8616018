// Copyright (c) CaseGate Authors.
// Licensed under the MIT License.

/*
Package testutil 提供 CaseGate 测试的共享工具和夹具。

# 核心能力

  - 上下文辅助: TestContext / TestContextWithTimeout，自动注册 Cleanup 防止泄漏
  - 仓储夹具: SeededStore 写入示例案例，PendingID 查找 pending 记录
  - 结案断言: AssertResolved 校验终态与唯一的审计事件
  - 通用断言: AssertEventuallyTrue / AssertJSONEqual

# 子包

  - testutil/mocks: MockRepository，包装真实仓储并按方法注入故障、记录调用
  - testutil/fixtures: CaseBuilder 构造测试案例

# 使用示例

	repo := mocks.NewMockRepository(testutil.SeededStore(t)).
		WithUpdateError(casestore.ErrPersistence)
*/
package testutil
