package outbox_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/rezonia/nfe-collector/internal/outbox"
)

func TestNextRetryDelay(t *testing.T) {
	tests := []struct {
		attempt  int
		expected time.Duration
	}{
		{1, 1 * time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{4, 8 * time.Second},
		{5, 16 * time.Second},
		{6, 16 * time.Second},
		{0, 1 * time.Second},
		{-3, 1 * time.Second},
		{40, 16 * time.Second},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, outbox.NextRetryDelay(tt.attempt), "attempt %d", tt.attempt)
	}
}
