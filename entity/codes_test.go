package entity

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewLauncherCode(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		code := NewLauncherCode()
		assert.Regexp(t, `^RC-[A-Z0-9]{4}-[A-Z0-9]{4}$`, code)
		seen[code] = true
	}
	// collisions over 100 draws from a 36^8 space would mean a broken generator
	assert.Greater(t, len(seen), 90)
}

func TestNewUniqueId(t *testing.T) {
	assert.Equal(t, "RC-abc123", NewUniqueId("abc123"))
}

func TestNewDeviceId(t *testing.T) {
	id := NewDeviceId()
	assert.Regexp(t, `^DEV-[0-9a-f-]{8}$`, id)
	assert.NotEqual(t, id, NewDeviceId())
}
