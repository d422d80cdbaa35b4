package errors

import (
	stdErrors "errors"
	"fmt"
	"testing"
)

func TestErrorCarriesCodeAndCause(t *testing.T) {
	cause := stdErrors.New("connection refused")
	err := Wrap(CodeStorageFailure, cause, "写入失败")

	if err.Code() != CodeStorageFailure {
		t.Fatalf("期望错误码 %s, 实际 %s", CodeStorageFailure, err.Code())
	}
	if !stdErrors.Is(err, cause) {
		t.Fatalf("应能沿错误链找到原始错误")
	}
	if got := err.Error(); got != fmt.Sprintf("[%s] 写入失败: %v", CodeStorageFailure, cause) {
		t.Fatalf("unexpected message: %q", got)
	}
}

func TestErrorIsMatchesByCode(t *testing.T) {
	a := New(CodeConflict, "第一处冲突")
	b := New(CodeConflict, "另一处冲突")
	c := New(CodeNotFound, "")

	if !stdErrors.Is(a, b) {
		t.Fatalf("相同错误码应视为同类错误")
	}
	if stdErrors.Is(a, c) {
		t.Fatalf("不同错误码不应匹配")
	}
}

func TestRegisteredAttributesDriveBehavior(t *testing.T) {
	const code Code = "TEST_RETRYABLE"
	Register(code, Attributes{Message: "test", Severity: SeverityWarning, Retryable: true})

	err := New(code, "")
	if err.Message() != "test" {
		t.Fatalf("空消息应回退到注册表默认值, 实际 %q", err.Message())
	}
	if !err.Retryable() {
		t.Fatalf("注册为可重试的错误码应可重试")
	}
	if err.Severity() != SeverityWarning {
		t.Fatalf("unexpected severity: %s", err.Severity())
	}

	overridden := New(code, "x", WithRetryable(false), WithSeverity(SeverityCritical))
	if overridden.Retryable() {
		t.Fatalf("显式覆盖应优先于注册表")
	}
	if overridden.Severity() != SeverityCritical {
		t.Fatalf("严重程度覆盖未生效")
	}
}

func TestCodeOfUnwrapsThroughChain(t *testing.T) {
	inner := New(CodeTimeout, "超时")
	wrapped := fmt.Errorf("外层上下文: %w", inner)

	if CodeOf(wrapped) != CodeTimeout {
		t.Fatalf("应从错误链中提取错误码, 实际 %s", CodeOf(wrapped))
	}
	if CodeOf(stdErrors.New("plain")) != CodeUnknown {
		t.Fatalf("普通错误应归为 UNKNOWN")
	}
	if !RetryableError(wrapped) {
		t.Fatalf("TIMEOUT 注册为可重试")
	}
}

func TestAttributesOfUnknownCode(t *testing.T) {
	attrs := AttributesOf(Code("NEVER_REGISTERED"))
	if attrs.Message != "unknown error" {
		t.Fatalf("未注册错误码应回退到 UNKNOWN 属性: %+v", attrs)
	}
}
