package logging

import (
	"testing"

	"go.uber.org/zap/zapcore"
)

func TestParseLevel(t *testing.T) {
	testCases := []struct {
		input string
		want  zapcore.Level
	}{
		{input: "debug", want: zapcore.DebugLevel},
		{input: "info", want: zapcore.InfoLevel},
		{input: "warn", want: zapcore.WarnLevel},
		{input: "warning", want: zapcore.WarnLevel},
		{input: "error", want: zapcore.ErrorLevel},
		{input: "", want: zapcore.InfoLevel},
		{input: "verbose", want: zapcore.InfoLevel},
		{input: "  WARN  ", want: zapcore.WarnLevel},
	}

	for _, testCase := range testCases {
		if got := parseLevel(testCase.input); got != testCase.want {
			t.Fatalf("parseLevel(%q) = %s, want %s", testCase.input, got, testCase.want)
		}
	}
}

func TestNewLoggerBuilds(t *testing.T) {
	logger, err := NewLogger("debug")
	if err != nil {
		t.Fatalf("failed to build logger: %v", err)
	}
	if !logger.Core().Enabled(zapcore.DebugLevel) {
		t.Fatal("expected debug level to be enabled")
	}
}
