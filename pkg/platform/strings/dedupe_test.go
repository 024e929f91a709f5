package strings

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDedupeAndTrim(t *testing.T) {
	tests := []struct {
		name     string
		input    []string
		expected []string
	}{
		{
			name:     "nil slice",
			input:    nil,
			expected: nil,
		},
		{
			name:     "empty slice",
			input:    []string{},
			expected: []string{},
		},
		{
			name:     "single broker",
			input:    []string{"kafka-1:9092"},
			expected: []string{"kafka-1:9092"},
		},
		{
			name:     "trims whitespace",
			input:    []string{"  kafka-1:9092  ", "kafka-2:9092  ", "  kafka-3:9092"},
			expected: []string{"kafka-1:9092", "kafka-2:9092", "kafka-3:9092"},
		},
		{
			name:     "removes duplicates preserving order",
			input:    []string{"kafka-1:9092", "kafka-2:9092", "kafka-1:9092"},
			expected: []string{"kafka-1:9092", "kafka-2:9092"},
		},
		{
			name:     "removes empty entries from trailing commas",
			input:    []string{"kafka-1:9092", "", "  ", "kafka-2:9092"},
			expected: []string{"kafka-1:9092", "kafka-2:9092"},
		},
		{
			name:     "combined: trim, dedupe, remove empty",
			input:    []string{" kafka-1:9092 ", "kafka-2:9092", "kafka-1:9092", "", "  "},
			expected: []string{"kafka-1:9092", "kafka-2:9092"},
		},
		{
			name:     "hostnames are case sensitive",
			input:    []string{"Kafka-1:9092", "kafka-1:9092"},
			expected: []string{"Kafka-1:9092", "kafka-1:9092"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := DedupeAndTrim(tt.input)
			assert.Equal(t, tt.expected, result)
		})
	}
}
