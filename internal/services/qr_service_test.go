package services

import (
	"encoding/base64"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/lockpool/escrow/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClaimQRService_GenerateClaimQR(t *testing.T) {
	service := NewClaimQRService("")

	lock := &models.LockContract{
		Hashlock:      strings.Repeat("cd", 32),
		Sender:        "alice",
		Receiver:      "bob",
		TokenContract: "GOLD",
		Amount:        400,
		Timelock:      time.Date(2025, 6, 1, 13, 0, 0, 0, time.UTC),
		Preimage:      "should-never-leak",
	}

	payload, encoded, err := service.GenerateClaimQR(lock)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal([]byte(payload), &decoded))
	assert.Equal(t, "escrow://claim/"+lock.Hashlock, decoded["uri"])
	assert.Equal(t, lock.Hashlock, decoded["hashlock"])
	assert.Equal(t, "bob", decoded["receiver"])
	assert.Equal(t, float64(400), decoded["amount"])

	// the claim payload must not expose the preimage
	assert.NotContains(t, payload, lock.Preimage)
	_, hasPreimage := decoded["preimage"]
	assert.False(t, hasPreimage)

	// valid PNG image
	image, err := base64.StdEncoding.DecodeString(encoded)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(image), "\x89PNG"))
}

func TestClaimQRService_CustomPrefix(t *testing.T) {
	service := NewClaimQRService("https://pay.example.com/claim/")

	lock := &models.LockContract{Hashlock: strings.Repeat("ef", 32), Timelock: time.Now()}
	payload, _, err := service.GenerateClaimQR(lock)
	require.NoError(t, err)
	assert.Contains(t, payload, "https://pay.example.com/claim/"+lock.Hashlock)
}
