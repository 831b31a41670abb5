package service

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/jlk/checkmk-llm-server-sub000/internal/common"
	bdomain "github.com/jlk/checkmk-llm-server-sub000/internal/features/backend/domain"
	"github.com/jlk/checkmk-llm-server-sub000/internal/features/history/domain"
)

const (
	graphPage = "view.py"
	graphView = "service_graphs"
)

// productMarkers identify a page served by the Checkmk GUI
var productMarkers = []string{"check_mk", "checkmk", "cmk."}

// PageFetcher downloads the service graph page
type PageFetcher struct {
	httpClient   bdomain.HTTPClientInterface
	sessions     bdomain.SessionProvider
	minPageBytes int
	metrics      *Metrics
	logger       *slog.Logger
}

// NewPageFetcher creates a new page fetcher
func NewPageFetcher(
	httpClient bdomain.HTTPClientInterface,
	sessions bdomain.SessionProvider,
	minPageBytes int,
	metrics *Metrics,
	logger *slog.Logger,
) *PageFetcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &PageFetcher{
		httpClient:   httpClient,
		sessions:     sessions,
		minPageBytes: minPageBytes,
		metrics:      metrics,
		logger:       logger,
	}
}

// pageResult is one GET of the graph page
type pageResult struct {
	url     string
	body    string
	status  int
	expired bool
}

// Fetch returns the graph page and the session that fetched it. An expired
// session is refreshed once and the request retried once.
func (f *PageFetcher) Fetch(
	ctx context.Context,
	session *bdomain.Session,
	period domain.Period,
	host, check string,
) (string, *bdomain.Session, error) {
	result, err := f.get(ctx, session, period, host, check)
	if err != nil {
		return "", session, err
	}

	if result.expired {
		f.logger.Info("session expired, re-authenticating",
			"status", result.status, "generation", session.Generation)
		refreshed, loggedIn, err := f.sessions.RefreshIfStale(ctx, session.Generation)
		if err != nil {
			return "", session, err
		}
		if loggedIn {
			f.metrics.RecordSessionRefresh()
		}
		session = refreshed

		result, err = f.get(ctx, session, period, host, check)
		if err != nil {
			return "", session, err
		}
		if result.expired {
			return "", session, common.NewFetchError(result.url, result.status,
				"session rejected after re-authentication", result.body)
		}
	}

	if reason := f.implausible(result.body, host, check); reason != "" {
		return "", session, common.NewFetchError(result.url, result.status, reason, result.body)
	}

	f.logger.Debug("graph page fetched", "bytes", len(result.body), "period", period.Token)
	return result.body, session, nil
}

func (f *PageFetcher) get(
	ctx context.Context,
	session *bdomain.Session,
	period domain.Period,
	host, check string,
) (pageResult, error) {
	target := session.URL(graphPage, url.Values{
		"view_name":   {graphView},
		"site":        {session.Site},
		"host":        {host},
		"service":     {check},
		"graph_range": {period.GraphRange},
	})
	result := pageResult{url: target}

	headers := session.Headers()
	headers["Referer"] = session.URL("index.py", nil)
	headers["Accept"] = "text/html,application/xhtml+xml"

	resp, err := f.httpClient.Request(ctx, http.MethodGet, target, nil, headers, session.Jar)
	if err != nil {
		if common.IsContextCanceled(err) {
			return result, fmt.Errorf("fetching graph page: %w", err)
		}
		return result, common.NewFetchError(target, 0, err.Error(), "")
	}

	body, err := f.httpClient.ReadResponseBody(resp)
	if err != nil {
		return result, common.NewFetchError(target, resp.StatusCode, "failed to read page", "")
	}
	result.body = string(body)
	result.status = resp.StatusCode

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		result.expired = true
	case resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices:
		return result, common.NewFetchError(target, resp.StatusCode, "unexpected status", result.body)
	case isLoginPage(resp, result.body):
		result.expired = true
	}
	return result, nil
}

// isLoginPage detects the login form Checkmk serves with 200 to expired sessions
func isLoginPage(resp *http.Response, body string) bool {
	if resp.Request != nil && resp.Request.URL != nil && strings.HasSuffix(resp.Request.URL.Path, "login.py") {
		return true
	}
	return strings.Contains(body, `name="_login"`) && strings.Contains(body, "_password")
}

// implausible returns why the page cannot be the requested graph page, or ""
func (f *PageFetcher) implausible(page, host, check string) string {
	if len(page) < f.minPageBytes {
		return fmt.Sprintf("page too short (%d bytes)", len(page))
	}

	lowered := strings.ToLower(page)
	hasMarker := false
	for _, marker := range productMarkers {
		if strings.Contains(lowered, marker) {
			hasMarker = true
			break
		}
	}
	if !hasMarker {
		return "page carries no Checkmk markup"
	}
	if !mentions(lowered, host) {
		return fmt.Sprintf("page does not mention host %q", host)
	}
	if !mentions(lowered, check) {
		return fmt.Sprintf("page does not mention service %q", check)
	}
	return ""
}

// mentions matches name case-insensitively, as text or query-escaped
func mentions(lowered, name string) bool {
	name = strings.ToLower(name)
	return strings.Contains(lowered, name) ||
		strings.Contains(lowered, strings.ToLower(url.QueryEscape(name))) ||
		strings.Contains(lowered, strings.ToLower(url.PathEscape(name)))
}
