package server

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKeyLabelHidesCredential(t *testing.T) {
	const apiKey = "super-secret-api-key"

	label := keyLabel(apiKey)
	assert.NotEqual(t, apiKey, label)
	assert.NotContains(t, label, apiKey)
	assert.Len(t, label, 12)
	assert.Equal(t, label, keyLabel(apiKey), "same key maps to the same series")
	assert.NotEqual(t, label, keyLabel("another-key"))
}
