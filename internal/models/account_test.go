package models

import (
	"strings"
	"testing"
)

func TestIsValidCurrency(t *testing.T) {
	tests := []struct {
		currency string
		expected bool
	}{
		{"USD", true},
		{"EUR", true},
		{"GBP", true},
		{"usd", false},
		{"Usd", false},
		{"USDT", false},
		{"US", false},
		{"", false},
		{"U$D", false},
		{"123", false},
	}

	for _, tt := range tests {
		t.Run(tt.currency, func(t *testing.T) {
			if got := IsValidCurrency(tt.currency); got != tt.expected {
				t.Errorf("IsValidCurrency(%q) = %v, want %v", tt.currency, got, tt.expected)
			}
		})
	}
}

func TestIsValidIdempotencyKey(t *testing.T) {
	tests := []struct {
		name     string
		key      string
		expected bool
	}{
		{"simple", "order-123", true},
		{"underscores", "retry_attempt_2", true},
		{"uuid style", "550e8400-e29b-41d4-a716-446655440000", true},
		{"sha256 hex", strings.Repeat("ab", 32), true},
		{"max length", strings.Repeat("k", 255), true},
		{"empty", "", false},
		{"too long", strings.Repeat("k", 256), false},
		{"spaces", "order 123", false},
		{"slash", "order/123", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsValidIdempotencyKey(tt.key); got != tt.expected {
				t.Errorf("IsValidIdempotencyKey(%q) = %v, want %v", tt.key, got, tt.expected)
			}
		})
	}
}
