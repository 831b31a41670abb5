package service

import (
	"net/http/cookiejar"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	bhttp "github.com/jlk/checkmk-llm-server-sub000/internal/features/backend/adapter/http"
	bdomain "github.com/jlk/checkmk-llm-server-sub000/internal/features/backend/domain"
)

// testNow is the fixed clock used across the extraction tests
var testNow = time.Unix(1700014400, 0).UTC()

func newTestHTTPClient(t *testing.T) *bhttp.Client {
	t.Helper()
	client, err := bhttp.NewClient(bhttp.ClientConfig{Timeout: 5 * time.Second})
	require.NoError(t, err)
	return client
}

// newTestSession returns a session rooted at <serverURL>/prod/check_mk
func newTestSession(t *testing.T, serverURL string, generation uint64) *bdomain.Session {
	t.Helper()
	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	return &bdomain.Session{
		BaseURL:    serverURL + "/prod/check_mk",
		Site:       "prod",
		Jar:        jar,
		Generation: generation,
	}
}
