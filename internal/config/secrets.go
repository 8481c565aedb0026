package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// SecretsDir каталог Docker Secrets.
var SecretsDir = "/run/secrets"

// ReadSecret читает секрет из файла в SecretsDir.
func ReadSecret(name string) (string, error) {
	path := filepath.Join(SecretsDir, name)
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read secret file %s: %w", path, err)
	}
	secret := strings.TrimSpace(string(raw))
	if secret == "" {
		return "", fmt.Errorf("secret file %s is empty", path)
	}
	return secret, nil
}

// SecretOr возвращает секрет из файла, а если его нет, то fallback из окружения.
func SecretOr(name, fallback string) string {
	if secret, err := ReadSecret(name); err == nil {
		return secret
	}
	return fallback
}
