package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMaskEmail(t *testing.T) {
	assert.Equal(t, "w***@example.com", MaskEmail("writer@example.com"))
	assert.Equal(t, "a***@inkhaven.io", MaskEmail("admissions@inkhaven.io"))
	assert.Equal(t, "***", MaskEmail("not-an-email"))
	assert.Equal(t, "***", MaskEmail("@nouser.com"))
}

func TestRedactMasksEmbeddedEmails(t *testing.T) {
	in := `{"error":"contact writer@example.com or ops@inkhaven.io"}`
	out := Redact(in)
	assert.Equal(t, `{"error":"contact w***@example.com or o***@inkhaven.io"}`, out)

	assert.Equal(t, "no addresses here", Redact("no addresses here"))
}
