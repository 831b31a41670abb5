package service

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"sort"
	"strings"
	"time"

	"golang.org/x/net/html"

	bdomain "github.com/jlk/checkmk-llm-server-sub000/internal/features/backend/domain"
	"github.com/jlk/checkmk-llm-server-sub000/internal/features/history/domain"
)

// maxJSONDepth bounds the recursive scan of alternate JSON responses
const maxJSONDepth = 8

var (
	// dataAttributeHints select data-* attributes worth mining
	dataAttributeHints = []string{"value", "current", "last", "temp", "reading", "metric", "perf"}
	// looseScriptValue matches assignments like currentTemp = 42.5 or "value": "42.5"
	looseScriptValue = regexp.MustCompile(`(?i)\b[\w$]*(?:value|current|last|temp|reading)[\w$]*["']?\s*[:=]\s*["']?(-?\d+(?:\.\d+)?)`)
	// timeLayouts are the timestamp formats accepted in delimited exports
	timeLayouts = []string{time.RFC3339, "2006-01-02 15:04:05", "2006-01-02T15:04:05", "2006-01-02 15:04"}
)

// alternateURL is one guessed location of the resource's data
type alternateURL struct {
	name string
	url  string
}

// serviceRecord is one service row from a REST collection or view export
type serviceRecord struct {
	description string
	perfData    string
	output      string
}

// AlternativeApproachEngine runs the last-resort strategies
type AlternativeApproachEngine struct {
	httpClient bdomain.HTTPClientInterface
	graphs     *GraphResponseParser
	scripts    *ScriptFallbackExtractor
	markup     *MarkupParser
	valueRange domain.ValueRange
	urlCache   *TTLCache[string, string]
	metrics    *Metrics
	logger     *slog.Logger
	now        func() time.Time
}

// NewAlternativeApproachEngine creates the engine. The last working alternate
// URL per resource is remembered for cacheTTL.
func NewAlternativeApproachEngine(
	httpClient bdomain.HTTPClientInterface,
	graphs *GraphResponseParser,
	scripts *ScriptFallbackExtractor,
	markup *MarkupParser,
	valueRange domain.ValueRange,
	cacheTTL time.Duration,
	metrics *Metrics,
	logger *slog.Logger,
) *AlternativeApproachEngine {
	if logger == nil {
		logger = slog.Default()
	}
	return &AlternativeApproachEngine{
		httpClient: httpClient,
		graphs:     graphs,
		scripts:    scripts,
		markup:     markup,
		valueRange: valueRange,
		urlCache:   NewTTLCache[string, string](cacheTTL, time.Now),
		metrics:    metrics,
		logger:     logger,
		now:        time.Now,
	}
}

// TryAll runs the strategies in order, merging their samples until more than
// one point exists including the prior count.
func (e *AlternativeApproachEngine) TryAll(ctx context.Context, req *Request, prior int) []domain.Sample {
	cascade := &Cascade{
		Stage: "alternatives",
		Strategies: []Strategy{
			NewStrategy("live_status", e.liveStatus),
			NewStrategy("metrics_probe", e.probeCollections),
			NewStrategy("alternate_urls", e.alternateURLs),
			NewStrategy("html_mining", e.mineHTML),
		},
		Merge:      true,
		Sufficient: func(total int) bool { return prior+total > 1 },
		Logger:     e.logger,
		Metrics:    e.metrics,
	}
	return cascade.Run(ctx, req)
}

// liveStatus reads the service's current performance data and status text
func (e *AlternativeApproachEngine) liveStatus(ctx context.Context, req *Request) Outcome {
	var errs []error

	restURL := req.Session.URL(
		"api/1.0/objects/host/"+url.PathEscape(req.Host)+"/actions/show_service/invoke",
		url.Values{"service_description": {req.Check}},
	)
	body, _, err := e.get(ctx, req.Session, restURL, "application/json")
	if err != nil {
		errs = append(errs, err)
	} else {
		var obj map[string]any
		if json.Unmarshal(body, &obj) == nil {
			record := recordFromObject(obj)
			if v, ok := currentValue(record.perfData, record.output, req.Check, e.valueRange); ok {
				return Success([]domain.Sample{e.currentSample(req, v)})
			}
		}
	}

	viewURL := req.Session.URL("view.py", url.Values{
		"view_name":     {"service"},
		"site":          {req.Session.Site},
		"host":          {req.Host},
		"service":       {req.Check},
		"output_format": {"json"},
	})
	body, _, err = e.get(ctx, req.Session, viewURL, "application/json")
	if err != nil {
		errs = append(errs, err)
	} else if record, ok := matchRecord(viewRecords(body), req.Check); ok {
		if v, ok := currentValue(record.perfData, record.output, req.Check, e.valueRange); ok {
			return Success([]domain.Sample{e.currentSample(req, v)})
		}
	}

	if len(errs) == 2 {
		return SoftFailure(errors.Join(errs...))
	}
	return Empty()
}

// probeCollections queries generic service collections and matches by description
func (e *AlternativeApproachEngine) probeCollections(ctx context.Context, req *Request) Outcome {
	columns := []string{"description", "perf_data", "plugin_output"}
	collections := []alternateURL{
		{
			name: "service_collection",
			url: req.Session.URL("api/1.0/domain-types/service/collections/all",
				url.Values{"host_name": {req.Host}, "columns": columns}),
		},
		{
			name: "host_services",
			url: req.Session.URL("api/1.0/objects/host/"+url.PathEscape(req.Host)+"/collections/services",
				url.Values{"columns": columns}),
		},
		{
			name: "host_view",
			url: req.Session.URL("view.py", url.Values{
				"view_name":     {"host"},
				"site":          {req.Session.Site},
				"host":          {req.Host},
				"output_format": {"json"},
			}),
		},
	}

	var errs []error
	for _, collection := range collections {
		body, _, err := e.get(ctx, req.Session, collection.url, "application/json")
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", collection.name, err))
			continue
		}
		record, ok := matchRecord(collectionRecords(body), req.Check)
		if !ok {
			continue
		}
		if v, ok := currentValue(record.perfData, record.output, req.Check, e.valueRange); ok {
			e.logger.Debug("current value from collection", "collection", collection.name, "value", v)
			return Success([]domain.Sample{e.currentSample(req, v)})
		}
	}

	if len(errs) == len(collections) {
		return SoftFailure(errors.Join(errs...))
	}
	return Empty()
}

// alternateURLs tries guessed export locations, the last one that worked first
func (e *AlternativeApproachEngine) alternateURLs(ctx context.Context, req *Request) Outcome {
	candidates := e.alternateCandidates(req)
	key := req.Host + "|" + req.Check

	cached, hasCached := e.urlCache.Get(key)
	if hasCached {
		sort.SliceStable(candidates, func(i, j int) bool {
			return candidates[i].name == cached && candidates[j].name != cached
		})
	}

	var errs []error
	for _, candidate := range candidates {
		body, contentType, err := e.get(ctx, req.Session, candidate.url, "*/*")
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", candidate.name, err))
			continue
		}
		samples := e.samplesFromContent(body, contentType, req)
		if len(samples) == 0 {
			continue
		}
		e.urlCache.Set(key, candidate.name)
		e.logger.Debug("alternate url produced samples", "url", candidate.name, "samples", len(samples))
		return Success(samples)
	}

	if hasCached {
		e.urlCache.Delete(key)
	}
	if len(errs) == len(candidates) {
		return SoftFailure(errors.Join(errs...))
	}
	return Empty()
}

func (e *AlternativeApproachEngine) alternateCandidates(req *Request) []alternateURL {
	end := e.now().UTC().Unix()
	start := end - req.Period.Seconds

	specification := []any{"template", map[string]any{
		"site":                req.Session.Site,
		"host_name":           req.Host,
		"service_description": req.Check,
		"graph_index":         0,
	}}
	dataRange := map[string]any{"time_range": []int64{start, end}}

	specJSON, _ := json.Marshal(specification)
	rangeJSON, _ := json.Marshal(dataRange)
	webapiJSON, _ := json.Marshal(map[string]any{"specification": specification, "data_range": dataRange})

	return []alternateURL{
		{
			name: "graph_export",
			url: req.Session.URL("graph_export.py", url.Values{
				"specification": {string(specJSON)},
				"data_range":    {string(rangeJSON)},
			}),
		},
		{
			name: "webapi_get_graph",
			url: req.Session.URL("webapi.py", url.Values{
				"action":        {"get_graph"},
				"output_format": {"json"},
				"request":       {string(webapiJSON)},
			}),
		},
		{
			name: "view_csv",
			url: req.Session.URL("view.py", url.Values{
				"view_name":     {"service"},
				"site":          {req.Session.Site},
				"host":          {req.Host},
				"service":       {req.Check},
				"output_format": {"csv"},
			}),
		},
		{
			name: "service_page",
			url: req.Session.URL("view.py", url.Values{
				"view_name": {"service"},
				"site":      {req.Session.Site},
				"host":      {req.Host},
				"service":   {req.Check},
			}),
		},
	}
}

// samplesFromContent applies the extraction matching the response type
func (e *AlternativeApproachEngine) samplesFromContent(body []byte, contentType string, req *Request) []domain.Sample {
	contentType = strings.ToLower(contentType)
	trimmed := strings.TrimSpace(string(body))

	switch {
	case strings.Contains(contentType, "json") || strings.HasPrefix(trimmed, "{") || strings.HasPrefix(trimmed, "["):
		return e.jsonSamples(body)
	case strings.Contains(contentType, "csv") || strings.Contains(contentType, "text/plain"):
		return e.delimitedSamples(trimmed, req)
	default:
		if samples := e.graphs.Parse(trimmed, nil); len(samples) > 0 {
			return samples
		}
		doc, err := e.markup.Parse(trimmed)
		if err != nil {
			return nil
		}
		return e.mine(doc, req)
	}
}

func (e *AlternativeApproachEngine) jsonSamples(body []byte) []domain.Sample {
	env := decodeEnvelope(http.StatusOK, body)
	if env.Err != nil {
		e.logger.Debug("alternate url returned an error envelope", "error", env.Err)
		return nil
	}

	var value any
	if err := DecodeLoose(env.Payload, &value); err != nil {
		return e.graphs.Parse(env.Payload, nil)
	}
	return e.walkJSON(value, 0)
}

// walkJSON looks for artworks and time/value arrays anywhere in a JSON value
func (e *AlternativeApproachEngine) walkJSON(v any, depth int) []domain.Sample {
	if depth > maxJSONDepth {
		return nil
	}

	switch x := v.(type) {
	case map[string]any:
		if _, ok := x["curves"]; ok {
			return e.graphs.samplesFromArtwork(x, nil)
		}
		keys := make([]string, 0, len(x))
		for k := range x {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		var samples []domain.Sample
		for _, k := range keys {
			samples = append(samples, e.walkJSON(x[k], depth+1)...)
		}
		return samples

	case []any:
		if samples := e.scripts.itemSamples(x); len(samples) > 0 {
			return samples
		}
		var samples []domain.Sample
		for _, item := range x {
			samples = append(samples, e.walkJSON(item, depth+1)...)
		}
		return samples
	}
	return nil
}

// delimitedSamples reads time/value rows from CSV-like exports. Exports
// without a time column fall back to their performance data column.
func (e *AlternativeApproachEngine) delimitedSamples(text string, req *Request) []domain.Sample {
	if text == "" {
		return nil
	}

	reader := csv.NewReader(strings.NewReader(text))
	reader.Comma = detectDelimiter(text)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true
	reader.TrimLeadingSpace = true

	var (
		samples []domain.Sample
		rows    [][]string
	)
	for {
		fields, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			e.logger.Debug("delimited export unreadable", "error", err)
			break
		}
		rows = append(rows, fields)
		if s, ok := e.delimitedRow(fields); ok {
			samples = append(samples, s)
		}
	}
	if len(samples) > 0 {
		return samples
	}

	if record, ok := matchRecord(recordsFromTable(rows), req.Check); ok {
		if v, ok := currentValue(record.perfData, record.output, req.Check, e.valueRange); ok {
			return []domain.Sample{e.currentSample(req, v)}
		}
	}
	return nil
}

func (e *AlternativeApproachEngine) delimitedRow(fields []string) (domain.Sample, bool) {
	tsIndex := -1
	var ts time.Time
	for i, f := range fields {
		if t, ok := parseTimestamp(f); ok {
			tsIndex, ts = i, t
			break
		}
	}
	if tsIndex < 0 {
		return domain.Sample{}, false
	}
	for i, f := range fields {
		if i == tsIndex {
			continue
		}
		if v, ok := ParseNumberCell(f); ok && e.valueRange.Contains(v) {
			return domain.Sample{Timestamp: ts, Value: v, Kind: domain.KindSeries}, true
		}
	}
	return domain.Sample{}, false
}

func parseTimestamp(field string) (time.Time, bool) {
	field = strings.TrimSpace(field)
	if v, ok := parseDecimal(field); ok {
		if looksLikeEpoch(v) {
			return epochToTime(v), true
		}
		return time.Time{}, false
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, field); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

func detectDelimiter(text string) rune {
	first, _, _ := strings.Cut(text, "\n")
	best, bestCount := ',', 0
	for _, candidate := range []rune{';', ',', '\t'} {
		if n := strings.Count(first, string(candidate)); n > bestCount {
			best, bestCount = candidate, n
		}
	}
	return best
}

// mineHTML scans the already fetched page for any plausible value
func (e *AlternativeApproachEngine) mineHTML(_ context.Context, req *Request) Outcome {
	if req.Document == nil {
		return Empty()
	}
	return Success(e.mine(req.Document, req))
}

// mine collects in-range values from hidden inputs, data attributes, canvas
// and SVG text and loosely named script variables
func (e *AlternativeApproachEngine) mine(doc *Document, req *Request) []domain.Sample {
	var values []float64
	seen := make(map[float64]struct{})
	add := func(v float64, ok bool) {
		if !ok || !e.valueRange.Contains(v) {
			return
		}
		if _, dup := seen[v]; dup {
			return
		}
		seen[v] = struct{}{}
		values = append(values, v)
	}

	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.Data {
			case "input":
				if strings.EqualFold(attrVal(n, "type"), "hidden") {
					add(ParseNumberCell(attrVal(n, "value")))
				}
			case "canvas", "text":
				add(ParseNumberCell(nodeText(n)))
			case "script":
				for _, m := range looseScriptValue.FindAllStringSubmatch(nodeText(n), -1) {
					add(parseDecimal(m[1]))
				}
			}
			for _, attr := range n.Attr {
				if strings.HasPrefix(attr.Key, "data-") && hasHint(attr.Key) {
					add(ParseNumberCell(attr.Val))
				}
			}
		}
		for child := n.FirstChild; child != nil; child = child.NextSibling {
			walk(child)
		}
	}
	walk(doc.Root)

	samples := make([]domain.Sample, 0, len(values))
	for _, v := range values {
		samples = append(samples, e.currentSample(req, v))
	}
	return samples
}

func hasHint(key string) bool {
	key = strings.ToLower(key)
	for _, hint := range dataAttributeHints {
		if strings.Contains(key, hint) {
			return true
		}
	}
	return false
}

func nodeText(n *html.Node) string {
	var b strings.Builder
	var collect func(*html.Node)
	collect = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
		}
		for child := n.FirstChild; child != nil; child = child.NextSibling {
			collect(child)
		}
	}
	collect(n)
	return b.String()
}

func (e *AlternativeApproachEngine) currentSample(req *Request, v float64) domain.Sample {
	at := req.WindowEnd
	if at.IsZero() {
		at = e.now().UTC().Truncate(time.Second)
	}
	return domain.Sample{Timestamp: at, Value: v, Kind: domain.KindCurrent}
}

// get fetches target with the session. Non-200 responses and login redirects are errors.
func (e *AlternativeApproachEngine) get(ctx context.Context, session *bdomain.Session, target, accept string) ([]byte, string, error) {
	headers := session.Headers()
	headers["Accept"] = accept

	resp, err := e.httpClient.Request(ctx, http.MethodGet, target, nil, headers, session.Jar)
	if err != nil {
		return nil, "", err
	}
	body, err := e.httpClient.ReadResponseBody(resp)
	if err != nil {
		return nil, "", err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("status %d", resp.StatusCode)
	}
	if resp.Request != nil && strings.HasSuffix(resp.Request.URL.Path, "login.py") {
		return nil, "", fmt.Errorf("redirected to login")
	}
	return body, resp.Header.Get("Content-Type"), nil
}

// recordFromObject reads a REST service object
func recordFromObject(obj map[string]any) serviceRecord {
	fields := obj
	if ext, ok := obj["extensions"].(map[string]any); ok {
		fields = ext
	}
	record := serviceRecord{
		description: firstString(fields, "description", "service_description"),
		perfData:    firstString(fields, "perf_data", "performance_data"),
		output:      firstString(fields, "plugin_output", "output"),
	}
	if record.description == "" {
		record.description = firstString(obj, "title")
	}
	return record
}

// collectionRecords reads a REST collection or a view JSON export
func collectionRecords(body []byte) []serviceRecord {
	var collection struct {
		Value []map[string]any `json:"value"`
	}
	if err := json.Unmarshal(body, &collection); err == nil && len(collection.Value) > 0 {
		records := make([]serviceRecord, 0, len(collection.Value))
		for _, obj := range collection.Value {
			records = append(records, recordFromObject(obj))
		}
		return records
	}
	return viewRecords(body)
}

// viewRecords reads a view JSON export: a header row followed by data rows
func viewRecords(body []byte) []serviceRecord {
	var rows [][]any
	if err := json.Unmarshal(body, &rows); err != nil || len(rows) < 2 {
		return nil
	}
	table := make([][]string, len(rows))
	for i, row := range rows {
		table[i] = make([]string, len(row))
		for j, cell := range row {
			if s, ok := cell.(string); ok {
				table[i][j] = s
			} else if cell != nil {
				table[i][j] = fmt.Sprint(cell)
			}
		}
	}
	return recordsFromTable(table)
}

// recordsFromTable maps export columns by their header names
func recordsFromTable(table [][]string) []serviceRecord {
	if len(table) < 2 {
		return nil
	}
	descCol, perfCol, outputCol := -1, -1, -1
	for j, name := range table[0] {
		name = strings.ToLower(name)
		switch {
		case strings.Contains(name, "perf_data"):
			perfCol = j
		case strings.Contains(name, "plugin_output"):
			outputCol = j
		case name == "service_description" || name == "description":
			descCol = j
		}
	}
	if perfCol < 0 && outputCol < 0 {
		return nil
	}

	records := make([]serviceRecord, 0, len(table)-1)
	for _, row := range table[1:] {
		records = append(records, serviceRecord{
			description: cellAt(row, descCol),
			perfData:    cellAt(row, perfCol),
			output:      cellAt(row, outputCol),
		})
	}
	return records
}

// matchRecord prefers an exact description match, then a containing one.
// A single record without description matches as well.
func matchRecord(records []serviceRecord, check string) (serviceRecord, bool) {
	lowered := strings.ToLower(check)
	for _, r := range records {
		if strings.EqualFold(r.description, check) {
			return r, true
		}
	}
	for _, r := range records {
		if r.description != "" && strings.Contains(strings.ToLower(r.description), lowered) {
			return r, true
		}
	}
	if len(records) == 1 && records[0].description == "" {
		return records[0], true
	}
	return serviceRecord{}, false
}

func cellAt(row []string, idx int) string {
	if idx < 0 || idx >= len(row) {
		return ""
	}
	return row[idx]
}

func firstString(m map[string]any, keys ...string) string {
	for _, key := range keys {
		if s, ok := m[key].(string); ok && s != "" {
			return s
		}
	}
	return ""
}
