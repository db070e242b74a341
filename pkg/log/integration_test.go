package log

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"testing"

	mcerrors "github.com/YuminosukeSato/medcharge/pkg/errors"
)

func TestTestLoggerLevels(t *testing.T) {
	testLogger, buffer := NewTestLogger(LevelDebug)

	testLogger.Debug("debug message", "key1", "value1", "number", 42)
	testLogger.Info("info message", OperationKey, OperationFit)
	testLogger.Warn("warning message")
	testLogger.Error("error message", fmt.Errorf("test error"), "error_code", "TEST_ERROR")

	if buffer.Len() == 0 {
		t.Fatal("Expected log output, got empty string")
	}
	for _, msg := range []string{"debug message", "info message", "warning message", "error message"} {
		if !testLogger.ContainsMessage(msg) {
			t.Errorf("%q not found in output", msg)
		}
	}
	if !testLogger.ContainsField("number", 42.0) {
		t.Error("Expected field number=42 not found")
	}
	if !testLogger.ContainsField(ErrAttrKey, "test error") {
		t.Error("Expected leading error to be logged under the error key")
	}
	if !testLogger.ContainsField("error_code", "TEST_ERROR") {
		t.Error("Expected error_code field after the leading error")
	}
}

func TestTestLoggerWith(t *testing.T) {
	testLogger, _ := NewTestLogger(LevelDebug)

	contextLogger := testLogger.With(ModelNameKey, "DecisionTreeRegressor", ComponentKey, "tree")
	contextLogger.Info("contextual message", OperationKey, OperationFit)

	if !testLogger.ContainsField(ModelNameKey, "DecisionTreeRegressor") {
		t.Error("Model name context not found")
	}
	if !testLogger.ContainsField(ComponentKey, "tree") {
		t.Error("Component context not found")
	}
}

func TestTestLoggerEnabled(t *testing.T) {
	testLogger, _ := NewTestLogger(LevelInfo)
	ctx := context.Background()

	if !testLogger.Enabled(ctx, LevelError) {
		t.Error("Logger should be enabled for Error level")
	}
	if testLogger.Enabled(ctx, LevelDebug) {
		t.Error("Logger should not be enabled for Debug level")
	}

	testLogger.Debug("this should not appear")
	if testLogger.ContainsMessage("this should not appear") {
		t.Error("Debug message should not appear when level is Info")
	}
}

func TestZerologLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := NewZerologLogger(&buf, LevelInfo).With(ComponentKey, "insurance")

	logger.Debug("hidden")
	logger.Info("model trained", SamplesKey, 1070, DepthKey, 12)
	logger.Error("startup failed", mcerrors.NewSchemaError("data.csv", []string{"bmi"}))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("Expected 2 records, got %d: %s", len(lines), buf.String())
	}

	var info map[string]interface{}
	if err := json.Unmarshal([]byte(lines[0]), &info); err != nil {
		t.Fatal(err)
	}
	if info["message"] != "model trained" || info[ComponentKey] != "insurance" {
		t.Errorf("unexpected info record: %v", info)
	}
	if info[SamplesKey] != 1070.0 {
		t.Errorf("samples = %v", info[SamplesKey])
	}

	var failure map[string]interface{}
	if err := json.Unmarshal([]byte(lines[1]), &failure); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(fmt.Sprint(failure[ErrAttrKey]), "missing required columns") {
		t.Errorf("error field = %v", failure[ErrAttrKey])
	}
	if _, ok := failure["error_detail"]; !ok {
		t.Error("Expected structured error_detail from MarshalZerologObject")
	}
}

func TestZerologLoggerEnabled(t *testing.T) {
	logger := NewZerologLogger(&bytes.Buffer{}, LevelWarn)

	if logger.Enabled(context.Background(), LevelInfo) {
		t.Error("Info should be disabled at warn level")
	}
	if !logger.Enabled(context.Background(), LevelError) {
		t.Error("Error should be enabled at warn level")
	}
}

func TestToLogLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    Level
		wantErr bool
	}{
		{"debug", LevelDebug, false},
		{"info", LevelInfo, false},
		{"warn", LevelWarn, false},
		{"error", LevelError, false},
		{"verbose", LevelInfo, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ToLogLevel(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ToLogLevel(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ToLogLevel(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestSetProvider(t *testing.T) {
	provider, _ := NewTestLoggerProvider(LevelDebug)
	prev := SetProvider(provider)
	defer SetProvider(prev)

	GetLoggerWithName("dataset").Info("loaded")

	if !provider.Logger().ContainsField(ComponentKey, "dataset") {
		t.Error("Expected named logger to carry component field")
	}
}
