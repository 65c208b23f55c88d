package natsjs

import (
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
)

func TestStreamConfig(t *testing.T) {
	cfg := StreamConfig(DefaultStream)
	assert.Equal(t, "TRIAGE_EVENTS", cfg.Name)
	assert.Equal(t, []string{"triage.>"}, cfg.Subjects)
	assert.Equal(t, nats.FileStorage, cfg.Storage)
	assert.Equal(t, 10*time.Minute, cfg.Duplicates)
}

func TestNewPublisher_Unreachable(t *testing.T) {
	_, err := NewPublisher("nats://127.0.0.1:1", "", nil)
	assert.Error(t, err)
}
