package metrics

import (
	"errors"
	"testing"
	"time"
)

func TestMetricsExistence(t *testing.T) {
	// Verify our exported metrics functions exist and don't panic
	RecordEval(10, 100*time.Millisecond)
	RecordMatmul("avx2_4x24", 64, 64, 64, 5*time.Millisecond)
	RecordPlanRebuild()
	// Functions exist and work - no assertion needed
}

func TestRecordEvalMultiple(t *testing.T) {
	RecordEval(5, 50*time.Millisecond)
	RecordEval(10, 100*time.Millisecond)
	RecordEval(3, 30*time.Millisecond)

	// Counter should accumulate - just verify no panic
}

func TestRecordMatmulHistogram(t *testing.T) {
	RecordMatmul("scalar_4x8", 16, 16, 16, 10*time.Millisecond)
	RecordMatmul("scalar_4x8", 32, 32, 32, 20*time.Millisecond)
	RecordMatmul("amx_16x64", 64, 64, 64, 30*time.Millisecond)

	// Histogram should have observations - just verify no panic
}

func TestRecordWeightPack(t *testing.T) {
	RecordWeightPack("avx512_8x48", 4096*4096*4)
	RecordWeightPack("vnni_8x48", 4096*4096)
}

func TestRecordNumericalInstability(t *testing.T) {
	RecordNumericalInstability("tensor1", 5, 0) // 5 NaNs
	RecordNumericalInstability("tensor2", 0, 3) // 3 Infs
}

func TestRecordValidationError(t *testing.T) {
	RecordValidationError("matmul", "bounds_check")
	RecordValidationError("matmul", "dtype_mismatch")
}

func TestRecordContextLength(t *testing.T) {
	RecordContextLength(512)
	RecordContextLength(1024)
	RecordContextLength(2048)
	RecordContextLength(4096)
}

func TestRecordLogitAuditBasic(t *testing.T) {
	RecordLogitAudit(10.0, -5.0, 3.0, false, false)
}

func TestRecordLogitAuditWithIssues(t *testing.T) {
	RecordLogitAudit(1000.0, -1000.0, 500.0, true, true)
}

func TestRecordKVCacheStats(t *testing.T) {
	RecordKVCacheStats(1024*1024*1024, 256*1024*1024)
	RecordKVCacheAppend(8)
}

func TestRecordSoftmaxMasking(t *testing.T) {
	RecordSoftmaxMasking(100, false)
	RecordSoftmaxMasking(4096, true)
}

func TestRecordActivationFlow(t *testing.T) {
	RecordActivationFlow(true)
	RecordActivationFlow(false)
}

func TestRecordSampling(t *testing.T) {
	RecordSampling(0.7, 40, 0.95)
	RecordSampling(0, 0, 0) // greedy, optional knobs unset
	RecordSamplingNaN(3)
	RecordSamplingNaN(0)
}

func TestRecordExport(t *testing.T) {
	RecordExport(128, 5*time.Millisecond, nil)
	RecordExport(0, time.Millisecond, errors.New("connection refused"))
}

func TestTotalTokensAtomic(t *testing.T) {
	// Test atomic operations
	initial := totalTokens.Load()
	RecordEval(1, time.Millisecond)
	after := totalTokens.Load()
	if after != initial+1 {
		t.Errorf("Expected totalTokens to increment by 1, got %d -> %d", initial, after)
	}
	if TokensEvaluated() != after {
		t.Errorf("TokensEvaluated() = %d, want %d", TokensEvaluated(), after)
	}
}
