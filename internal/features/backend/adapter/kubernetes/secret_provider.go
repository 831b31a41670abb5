package kubernetes

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jlk/checkmk-llm-server-sub000/internal/features/backend/domain"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
)

// lookupTimeout bounds a single secret read
const lookupTimeout = 10 * time.Second

// SecretProvider implements domain.SecretProvider using Kubernetes secrets
type SecretProvider struct {
	client    kubernetes.Interface
	namespace string
}

// NewSecretProvider creates a new Kubernetes secret provider
func NewSecretProvider(clientset kubernetes.Interface, namespace string) domain.SecretProvider {
	if namespace == "" {
		namespace = "default"
	}
	return &SecretProvider{
		client:    clientset,
		namespace: namespace,
	}
}

// GetSecretData retrieves specified keys from a Kubernetes secret.
// Missing keys are left out; trailing newlines from `kubectl create secret --from-file` are trimmed.
func (p *SecretProvider) GetSecretData(secretName string, keys []string) (map[string]string, error) {
	if secretName == "" {
		return nil, fmt.Errorf("secret name cannot be empty")
	}

	ctx, cancel := context.WithTimeout(context.Background(), lookupTimeout)
	defer cancel()

	secret, err := p.client.CoreV1().Secrets(p.namespace).Get(
		ctx,
		secretName,
		metav1.GetOptions{},
	)
	if err != nil {
		return nil, fmt.Errorf("failed to retrieve secret %s/%s: %w", p.namespace, secretName, err)
	}

	selectedData := make(map[string]string)
	for _, key := range keys {
		if value, exists := secret.Data[key]; exists {
			selectedData[key] = strings.TrimRight(string(value), "\r\n")
			continue
		}
		if value, exists := secret.StringData[key]; exists {
			selectedData[key] = strings.TrimRight(value, "\r\n")
		}
	}

	return selectedData, nil
}
