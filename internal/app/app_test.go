package app

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/tip-ledger/internal/config"
	"github.com/tip-ledger/internal/types"
)

func TestRetryConfig(t *testing.T) {
	a := &App{Config: &config.Config{Processor: config.ProcessorConfig{MaxRetries: 2}}}
	assert.Equal(t, 3, a.RetryConfig().MaxAttempts)

	a.Config.Processor.MaxRetries = 0
	assert.Equal(t, 1, a.RetryConfig().MaxAttempts)

	a.Config.Processor.MaxRetries = -1
	assert.Equal(t, 4, a.RetryConfig().MaxAttempts)
}

func TestAccountClass(t *testing.T) {
	tests := []struct {
		in   string
		want types.AccountClass
	}{
		{"platform", types.ClassPlatform},
		{"connected", types.ClassConnected},
		{"all", types.ClassAll},
		{"", types.ClassAll},
		{"bogus", types.ClassAll},
	}
	for _, tt := range tests {
		a := &App{Config: &config.Config{Sync: config.SyncConfig{AccountClass: tt.in}}}
		assert.Equal(t, tt.want, a.AccountClass(), tt.in)
	}
}
