package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// SecretsDir is where Docker secrets are mounted.
var SecretsDir = "/run/secrets"

// ReadSecret reads a secret file from SecretsDir. When the file is missing it falls back to
// the envKey environment variable, for local runs without Docker secrets.
func ReadSecret(secretName, envKey string) (string, error) {
	filePath := filepath.Join(SecretsDir, secretName)
	secretBytes, err := os.ReadFile(filePath)
	if err == nil {
		secret := strings.TrimSpace(string(secretBytes))
		if secret == "" {
			return "", fmt.Errorf("secret file %s is empty", filePath)
		}
		return secret, nil
	}
	if !os.IsNotExist(err) {
		return "", fmt.Errorf("failed to read secret file %s: %w", filePath, err)
	}
	if v := strings.TrimSpace(os.Getenv(envKey)); v != "" {
		return v, nil
	}
	return "", fmt.Errorf("secret %s not found in %s and %s is not set", secretName, SecretsDir, envKey)
}
