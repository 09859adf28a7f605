package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
	"testing"
)

// TestNew tests error creation and category derivation
func TestNew(t *testing.T) {
	tests := []struct {
		name     string
		code     ErrorCode
		category ErrorCategory
	}{
		{"config", ErrCodeInvalidConfig, CategoryConfiguration},
		{"config validation", ErrCodeConfigValidation, CategoryConfiguration},
		{"quantization", ErrCodeQuantizationFailed, CategoryQuantization},
		{"dequantization", ErrCodeDequantizationFailed, CategoryQuantization},
		{"unsupported kind", ErrCodeUnsupportedKind, CategoryQuantization},
		{"state", ErrCodeComponentStopped, CategoryState},
		{"training", ErrCodeTrainingFailed, CategoryOperation},
		{"internal", ErrCodeInternalError, CategoryInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := New(tt.code, "boom")
			if err.Category != tt.category {
				t.Errorf("category = %s, want %s", err.Category, tt.category)
			}
			if err.Timestamp.IsZero() {
				t.Error("timestamp not set")
			}
		})
	}
}

// TestCacheError_Error tests message formatting
func TestCacheError_Error(t *testing.T) {
	err := New(ErrCodeQuantizationFailed, "bad leaf").
		WithComponent("quant").
		WithOperation("quantize")

	msg := err.Error()
	if !strings.Contains(msg, "quant:quantize") || !strings.Contains(msg, "QUANTIZATION_FAILED") {
		t.Errorf("unexpected message: %s", msg)
	}
}

// TestCacheError_Wrap tests cause wrapping and errors.Is/As
func TestCacheError_Wrap(t *testing.T) {
	cause := fmt.Errorf("underlying")
	err := Wrap(cause, ErrCodeConfigLoad, "cannot read file")

	if !stderrors.Is(err, cause) {
		t.Error("expected errors.Is to match cause")
	}
	if !stderrors.Is(err, New(ErrCodeConfigLoad, "other message")) {
		t.Error("expected errors.Is to match by code")
	}

	var cacheErr *CacheError
	if !stderrors.As(err, &cacheErr) {
		t.Fatal("expected errors.As to extract CacheError")
	}
	if cacheErr.Code != ErrCodeConfigLoad {
		t.Errorf("code = %s, want %s", cacheErr.Code, ErrCodeConfigLoad)
	}
}

// TestCacheError_WithDetail tests detail accumulation and String output
func TestCacheError_WithDetail(t *testing.T) {
	err := New(ErrCodeValidationFailed, "out of range").
		WithDetail("field", "max_size").
		WithDetail("value", -1)

	if len(err.Details) != 2 {
		t.Fatalf("expected 2 details, got %d", len(err.Details))
	}
	s := err.String()
	if !strings.Contains(s, "max_size") {
		t.Errorf("String() missing detail: %s", s)
	}
}
