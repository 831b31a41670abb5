package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/jlk/checkmk-llm-server-sub000/internal/common"
	bdomain "github.com/jlk/checkmk-llm-server-sub000/internal/features/backend/domain"
	"github.com/jlk/checkmk-llm-server-sub000/internal/features/history/domain"
)

const renderEndpoint = "ajax_render_graph_content.py"

// RenderResponse is the raw render endpoint body with the range that was requested
type RenderResponse struct {
	Body   string
	Status int
	Bounds domain.TimeBounds
}

// AjaxGraphClient replays the browser's graph render request
type AjaxGraphClient struct {
	httpClient bdomain.HTTPClientInterface
	logger     *slog.Logger
	now        func() time.Time
}

// NewAjaxGraphClient creates a new render client
func NewAjaxGraphClient(httpClient bdomain.HTTPClientInterface, logger *slog.Logger) *AjaxGraphClient {
	if logger == nil {
		logger = slog.Default()
	}
	return &AjaxGraphClient{httpClient: httpClient, logger: logger, now: time.Now}
}

// Render posts the parameters with the time range rewritten to the requested
// period ending at end, or now when end is zero. Every failure is a RenderError.
func (c *AjaxGraphClient) Render(
	ctx context.Context,
	session *bdomain.Session,
	params domain.ExtractionParameters,
	period domain.Period,
	end time.Time,
	referer string,
) (*RenderResponse, error) {
	if end.IsZero() {
		end = c.now().UTC().Truncate(time.Second)
	}
	bounds := domain.TimeBounds{Start: end.Add(-period.Duration()), End: end}

	payload, err := json.Marshal(renderRequest(params, bounds))
	if err != nil {
		return nil, common.WrapRenderError(0, fmt.Errorf("failed to encode render request: %w", err))
	}

	headers := map[string]string{
		"Content-Type":     "application/x-www-form-urlencoded; charset=UTF-8",
		"X-Requested-With": "XMLHttpRequest",
		"Accept":           "application/json, text/javascript, */*; q=0.01",
	}
	if referer != "" {
		headers["Referer"] = referer
	}
	for k, v := range session.Headers() {
		headers[k] = v
	}

	form := url.Values{"request": {string(payload)}}
	resp, err := c.httpClient.Request(ctx, http.MethodPost, session.URL(renderEndpoint, nil),
		[]byte(form.Encode()), headers, session.Jar)
	if err != nil {
		return nil, common.WrapRenderError(0, err)
	}

	body, err := c.httpClient.ReadResponseBody(resp)
	if err != nil {
		return nil, common.WrapRenderError(resp.StatusCode, err)
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return nil, common.NewRenderError(resp.StatusCode, resp.StatusCode, string(body), "error")
	}

	if env := decodeEnvelope(resp.StatusCode, body); env.Err != nil {
		return nil, env.Err
	}

	c.logger.Debug("graph rendered", "bytes", len(body), "start", bounds.Start, "end", bounds.End)

	return &RenderResponse{Body: string(body), Status: resp.StatusCode, Bounds: bounds}, nil
}

// renderRequest builds the request object with only time_range replaced
func renderRequest(params domain.ExtractionParameters, bounds domain.TimeBounds) map[string]any {
	dataRange := make(map[string]any, len(params.DataRange)+1)
	for k, v := range params.DataRange {
		dataRange[k] = v
	}
	dataRange["time_range"] = []int64{bounds.Start.Unix(), bounds.End.Unix()}

	return map[string]any{
		"graph_recipe":        rawOrNull(params.DrawRecipe),
		"graph_data_range":    dataRange,
		"graph_render_config": rawOrNull(params.RenderConfig),
		"graph_display_id":    rawOrNull(params.DisplayID),
	}
}

func rawOrNull(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 {
		return json.RawMessage("null")
	}
	return raw
}
