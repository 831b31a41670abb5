package config

import (
	"fmt"

	"github.com/jlk/checkmk-llm-server-sub000/internal/features/backend/domain"
)

// SecretProvider implements domain.SecretProvider on top of values loaded
// from the application config (file or environment).
type SecretProvider struct {
	name   string
	values map[string]string
}

// NewSecretProvider creates a provider serving one named secret
func NewSecretProvider(name string, values map[string]string) domain.SecretProvider {
	copied := make(map[string]string, len(values))
	for k, v := range values {
		copied[k] = v
	}
	return &SecretProvider{
		name:   name,
		values: copied,
	}
}

// GetSecretData returns the requested keys that are set to a non-empty value
func (p *SecretProvider) GetSecretData(secretName string, keys []string) (map[string]string, error) {
	if secretName == "" {
		return nil, fmt.Errorf("secret name cannot be empty")
	}
	if secretName != p.name {
		return nil, fmt.Errorf("secret %s is not configured", secretName)
	}

	selectedData := make(map[string]string)
	for _, key := range keys {
		if value := p.values[key]; value != "" {
			selectedData[key] = value
		}
	}
	return selectedData, nil
}
