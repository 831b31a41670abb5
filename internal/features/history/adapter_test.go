package history

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"k8s.io/client-go/kubernetes/fake"

	"github.com/jlk/checkmk-llm-server-sub000/cmd/app"
	"github.com/jlk/checkmk-llm-server-sub000/internal/common"
)

func testConfig() *app.Config {
	return &app.Config{
		Kubernetes: app.KubernetesConfig{Namespace: "monitoring"},
		Checkmk: app.CheckmkConfig{
			CredentialSource: "config",
			SecretName:       "checkmk-credentials",
			ServerRoot:       "https://monitoring.example.com",
			Site:             "prod",
			Username:         "automation",
			Secret:           "s3cr3t",
			Timeout:          5 * time.Second,
		},
		Extraction: app.ExtractionConfig{MinValue: -100, MaxValue: 200, MinPageBytes: 512},
	}
}

func TestNewProvider(t *testing.T) {
	services, err := NewProvider(testConfig(), nil, nil, common.DiscardLogger())

	require.NoError(t, err)
	assert.NotNil(t, services.Provider)
	assert.NotNil(t, services.SessionProvider)
}

func TestNewProviderKubernetesSource(t *testing.T) {
	cfg := testConfig()
	cfg.Checkmk.CredentialSource = "kubernetes"

	_, err := NewProvider(cfg, nil, nil, common.DiscardLogger())
	assert.Error(t, err, "kubernetes source without a clientset should fail")

	services, err := NewProvider(cfg, fake.NewSimpleClientset(), nil, common.DiscardLogger())
	require.NoError(t, err)
	assert.NotNil(t, services.Provider)
}
