package services

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"image/png"

	"github.com/lockpool/escrow/internal/models"
	"github.com/skip2/go-qrcode"
)

// ClaimQRService renders a lock contract as a QR code wallets can scan to
// assemble a withdraw call. The code embeds the claim URI and the contract
// terms; it never contains the preimage.
type ClaimQRService struct {
	claimURIPrefix string
}

func NewClaimQRService(claimURIPrefix string) *ClaimQRService {
	if claimURIPrefix == "" {
		claimURIPrefix = "escrow://claim/"
	}
	return &ClaimQRService{claimURIPrefix: claimURIPrefix}
}

// GenerateClaimQR returns the claim payload and a base64 PNG of its QR code.
func (s *ClaimQRService) GenerateClaimQR(lock *models.LockContract) (string, string, error) {
	payload := map[string]any{
		"uri":            s.claimURIPrefix + lock.Hashlock,
		"hashlock":       lock.Hashlock,
		"receiver":       lock.Receiver,
		"token_contract": lock.TokenContract,
		"amount":         lock.Amount,
		"timelock":       lock.Timelock.Unix(),
	}

	jsonData, err := json.Marshal(payload)
	if err != nil {
		return "", "", err
	}

	qr, err := qrcode.New(string(jsonData), qrcode.Medium)
	if err != nil {
		return "", "", fmt.Errorf("build claim QR: %w", err)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, qr.Image(256)); err != nil {
		return "", "", err
	}

	return string(jsonData), base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}
