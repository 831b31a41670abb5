package service

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/jlk/checkmk-llm-server-sub000/internal/features/history/domain"
)

// graphLoaderCalls are the in-page invocations that carry the render request
var graphLoaderCalls = []string{
	"cmk.graphs.load_graph_content",
	"cmk.graph_integration.load_graph_content",
}

// recipeFields are recovered one by one when a recipe or render config does not decode
var recipeFields = []string{
	"title",
	"unit",
	"explicit_vertical_range",
	"horizontal_rules",
	"omit_zero_metrics",
	"consolidation_function",
	"metrics",
}

// dataRangeFields are recovered one by one when a data range does not decode
var dataRangeFields = []string{"time_range", "step"}

// fieldPatterns locate `"field":` keys for every field recovered by extractFields
var fieldPatterns = fieldPatternsFor(recipeFields, dataRangeFields, artworkFallbackFields)

func fieldPatternsFor(lists ...[]string) map[string]*regexp.Regexp {
	patterns := make(map[string]*regexp.Regexp)
	for _, fields := range lists {
		for _, field := range fields {
			patterns[field] = fieldPattern(field)
		}
	}
	return patterns
}

func fieldPattern(field string) *regexp.Regexp {
	return regexp.MustCompile(`["']?\b` + regexp.QuoteMeta(field) + `\b["']?\s*:\s*`)
}

// htmlArgumentEnd finds the close of a leading HTML string argument by its
// transition into the structured recipe argument
var htmlArgumentEnd = regexp.MustCompile(`["']\s*,\s*\{`)

// ParameterExtractor rebuilds graph render requests from inline script
type ParameterExtractor struct {
	logger *slog.Logger
}

// NewParameterExtractor creates a new parameter extractor
func NewParameterExtractor(logger *slog.Logger) *ParameterExtractor {
	if logger == nil {
		logger = slog.Default()
	}
	return &ParameterExtractor{logger: logger}
}

// ExtractAll returns the parameters of every graph loader call on the page.
// Malformed calls are skipped; an empty result is normal.
func (e *ParameterExtractor) ExtractAll(page string) []domain.ExtractionParameters {
	var result []domain.ExtractionParameters

	for _, name := range graphLoaderCalls {
		for _, open := range FindCalls(page, name) {
			params, err := e.extractAt(page, open, len(result))
			if err != nil {
				e.logger.Debug("skipping graph loader call", "call", name, "offset", open, "error", err)
				continue
			}
			result = append(result, params)
		}
	}
	return result
}

// extractAt reads the call whose opening parenthesis is at open
func (e *ParameterExtractor) extractAt(page string, open, index int) (domain.ExtractionParameters, error) {
	var params domain.ExtractionParameters

	args, err := e.structuredArguments(page, open)
	if err != nil {
		return params, err
	}
	if len(args) < 2 {
		return params, fmt.Errorf("expected at least recipe and data range, got %d arguments", len(args))
	}

	recipe, partial, err := decodeObjectArgument(args[0], recipeFields)
	if err != nil {
		return params, fmt.Errorf("draw recipe: %w", err)
	}
	params.DrawRecipe = recipe
	params.Partial = partial

	dataRange, partial, err := decodeDataRange(args[1])
	if err != nil {
		return params, fmt.Errorf("data range: %w", err)
	}
	params.DataRange = dataRange
	params.Partial = params.Partial || partial

	params.RenderConfig = json.RawMessage(`{}`)
	if len(args) > 2 {
		config, partial, err := decodeObjectArgument(args[2], recipeFields)
		if err != nil {
			e.logger.Debug("render config unreadable, sending empty config", "error", err)
			partial = true
		} else {
			params.RenderConfig = config
		}
		params.Partial = params.Partial || partial
	}

	params.DisplayID = decodeDisplayID(args, index)
	return params, nil
}

// structuredArguments returns the arguments after an optional leading HTML string
func (e *ParameterExtractor) structuredArguments(page string, open int) ([]string, error) {
	pos := skipSpaces(page, open+1)
	if pos >= len(page) {
		return nil, fmt.Errorf("call truncated")
	}

	if isQuote(page[pos]) {
		next := -1
		if end, ok := StringEnd(page, pos); ok {
			if after := skipSpaces(page, end+1); after < len(page) && page[after] == ',' {
				next = after + 1
			}
		}
		if next < 0 {
			// Unescaped quotes inside the markup: fall back to the literal transition
			loc := htmlArgumentEnd.FindStringIndex(page[pos+1:])
			if loc == nil {
				return nil, fmt.Errorf("leading string argument has no end")
			}
			next = pos + loc[1]
		}
		pos = next
	}

	args, _, ok := splitArgumentsFrom(page, pos)
	if !ok {
		return nil, fmt.Errorf("unbalanced argument list")
	}
	return args, nil
}

// decodeObjectArgument decodes an object argument, falling back to the named fields
func decodeObjectArgument(arg string, fields []string) (json.RawMessage, bool, error) {
	var obj map[string]any
	if err := DecodeLoose(arg, &obj); err == nil && obj != nil {
		raw, err := json.Marshal(obj)
		return raw, false, err
	}

	manual := extractFields(arg, fields)
	if len(manual) == 0 {
		return nil, true, fmt.Errorf("argument is neither an object nor holds known fields")
	}
	raw, err := json.Marshal(manual)
	return raw, true, err
}

func decodeDataRange(arg string) (map[string]any, bool, error) {
	var obj map[string]any
	if err := DecodeLoose(arg, &obj); err == nil && obj != nil {
		return obj, false, nil
	}

	manual := extractFields(arg, dataRangeFields)
	if len(manual) == 0 {
		return nil, true, fmt.Errorf("argument is neither an object nor holds a time range")
	}
	return manual, true, nil
}

// decodeDisplayID returns the fourth argument as JSON. Script identifiers and
// missing ids are replaced by a generated id.
func decodeDisplayID(args []string, index int) json.RawMessage {
	if len(args) > 3 {
		var v any
		if err := DecodeLoose(args[3], &v); err == nil && v != nil {
			if raw, err := json.Marshal(v); err == nil {
				return raw
			}
		}
	}
	raw, _ := json.Marshal(fmt.Sprintf("cmk_history_graph_%d", index))
	return raw
}

// extractFields recovers individual "field": value pairs from text that does
// not decode as a whole
func extractFields(text string, fields []string) map[string]any {
	result := make(map[string]any)
	for _, field := range fields {
		pattern, ok := fieldPatterns[field]
		if !ok {
			pattern = fieldPattern(field)
		}
		loc := pattern.FindStringIndex(text)
		if loc == nil {
			continue
		}
		raw, ok := valueAt(text, loc[1])
		if !ok {
			continue
		}
		var v any
		if err := DecodeLoose(raw, &v); err == nil {
			result[field] = v
		}
	}
	return result
}

// valueAt cuts the literal value starting at start
func valueAt(text string, start int) (string, bool) {
	if start >= len(text) {
		return "", false
	}
	switch c := text[start]; {
	case isOpener(c):
		return cutBalanced(text, start)
	case isQuote(c):
		end, ok := StringEnd(text, start)
		if !ok {
			return "", false
		}
		return text[start : end+1], true
	default:
		end := start
		for end < len(text) && !strings.ContainsRune(",}]\n", rune(text[end])) {
			end++
		}
		value := strings.TrimSpace(text[start:end])
		return value, value != ""
	}
}
