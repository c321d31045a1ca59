package entity

import (
	"crypto/rand"
	"fmt"

	"github.com/google/uuid"
)

const codeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// NewLauncherCode issues a fresh launcher binding code, two random blocks
// under a fixed prefix. Codes are opaque and compared case-sensitively.
func NewLauncherCode() string {
	return fmt.Sprintf("RC-%s-%s", randomBlock(4), randomBlock(4))
}

// NewUniqueId derives the stable launcher-side identifier for an account.
func NewUniqueId(userId string) string {
	return "RC-" + userId
}

// NewDeviceId issues a fallback device id for launchers that did not
// report one.
func NewDeviceId() string {
	return "DEV-" + uuid.NewString()[:8]
}

func randomBlock(length int) string {
	buf := make([]byte, length)
	_, _ = rand.Read(buf)
	out := make([]byte, length)
	for i, b := range buf {
		out[i] = codeAlphabet[int(b)%len(codeAlphabet)]
	}
	return string(out)
}
