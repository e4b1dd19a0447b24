package config

import (
	"os"
	"strconv"
)

type EscrowConfig struct {
	CustodyPrincipal string
	EventQueue       string
	ClaimURIPrefix   string
	SettlementBIC    string
	MaxListLimit     int
}

func LoadEscrowConfig() *EscrowConfig {
	return &EscrowConfig{
		CustodyPrincipal: getEnv("ESCROW_CUSTODY_PRINCIPAL", "escrow-custody"),
		EventQueue:       getEnv("ESCROW_EVENT_QUEUE", "escrow_events"),
		ClaimURIPrefix:   getEnv("ESCROW_CLAIM_URI_PREFIX", "escrow://claim/"),
		SettlementBIC:    getEnv("ESCROW_SETTLEMENT_BIC", "LOCKPOOL"),
		MaxListLimit:     getEnvAsInt("ESCROW_MAX_LIST_LIMIT", 100),
	}
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvAsInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if intVal, err := strconv.Atoi(val); err == nil {
			return intVal
		}
	}
	return defaultVal
}
