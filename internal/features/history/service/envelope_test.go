package service

import (
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jlk/checkmk-llm-server-sub000/internal/common"
)

func TestDecodeEnvelopeResultCode(t *testing.T) {
	env := decodeEnvelope(http.StatusOK, []byte(`{"result_code": 0, "result": "<div>graph</div>", "severity": "success"}`))

	require.NoError(t, env.Err)
	assert.True(t, env.Wrapped)
	assert.Equal(t, "<div>graph</div>", env.Payload)
}

func TestDecodeEnvelopeResultCodeError(t *testing.T) {
	env := decodeEnvelope(http.StatusOK, []byte(`{"result_code": 1, "result": "Invalid graph specification", "severity": "error"}`))

	require.Error(t, env.Err)
	var renderErr common.ErrRender
	require.True(t, errors.As(env.Err, &renderErr))
	assert.Equal(t, 1, renderErr.Code)
	assert.Equal(t, "Invalid graph specification", renderErr.Message)
	assert.Equal(t, "error", renderErr.Severity)
}

func TestDecodeEnvelopeStatusShapes(t *testing.T) {
	env := decodeEnvelope(http.StatusOK, []byte(`{"status": "ok", "html": "<p>x</p>"}`))
	require.NoError(t, env.Err)
	assert.Equal(t, "<p>x</p>", env.Payload)

	env = decodeEnvelope(http.StatusOK, []byte(`{"success": true, "data": {"curves": []}}`))
	require.NoError(t, env.Err)
	assert.JSONEq(t, `{"curves": []}`, env.Payload)

	env = decodeEnvelope(http.StatusOK, []byte(`{"status": "error", "message": "no such graph", "code": 3}`))
	require.Error(t, env.Err)
	assert.True(t, common.IsRenderError(env.Err))

	env = decodeEnvelope(http.StatusOK, []byte(`{"success": false, "error": "denied"}`))
	assert.True(t, common.IsRenderError(env.Err))
}

func TestDecodeEnvelopeRawHTML(t *testing.T) {
	body := "\xef\xbb\xbf<div><script>cmk.graphs.create_graph()</script></div>"

	env := decodeEnvelope(http.StatusOK, []byte(body))

	require.NoError(t, env.Err)
	assert.False(t, env.Wrapped)
	assert.Equal(t, body, env.Payload)
}

func TestDecodeEnvelopeBareObject(t *testing.T) {
	env := decodeEnvelope(http.StatusOK, []byte(` {"curves": [], "step": 60} `))

	require.NoError(t, env.Err)
	assert.False(t, env.Wrapped)
	assert.JSONEq(t, `{"curves": [], "step": 60}`, env.Payload)
}
