package service

import (
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/jlk/checkmk-llm-server-sub000/internal/features/history/domain"
)

// aggregateNames maps legend and table labels onto aggregate kinds
var aggregateNames = map[string]domain.Kind{
	"min":     domain.KindMin,
	"minimum": domain.KindMin,
	"max":     domain.KindMax,
	"maximum": domain.KindMax,
	"avg":     domain.KindAverage,
	"average": domain.KindAverage,
	"mean":    domain.KindAverage,
	"last":    domain.KindLast,
	"current": domain.KindLast,
	"cur":     domain.KindLast,
	"first":   domain.KindFirst,
}

var (
	aggregateKeyword = regexp.MustCompile(`(?i)\b(minimum|min|maximum|max|average|avg|mean|last|current|first)\b`)
	labelledNumber   = regexp.MustCompile(`(?i)\b(minimum|min|maximum|max|average|avg|mean|last|current|first)\b\s*[:=]\s*([-+]?\d+(?:[.,]\d+)?)`)
	plainNumber      = regexp.MustCompile(`[-+]?\d+(?:\.\d+)?`)
	rangeToken       = regexp.MustCompile(`(?i)\b(\d{1,3})\s*(?:h|hours?|d|days?|w|weeks?|months?|y|years?)\b`)
	rangeVocabulary  = regexp.MustCompile(`(?i)\b(?:time\s*range|timerange|graph\s*range|time\s*period)\b`)
)

// aggregateKind maps a label onto an aggregate kind
func aggregateKind(label string) (domain.Kind, bool) {
	label = strings.ToLower(strings.TrimSpace(strings.TrimRight(strings.TrimSpace(label), ":")))
	kind, ok := aggregateNames[label]
	return kind, ok
}

// tableCandidate is one aggregate value proposed by one strategy
type tableCandidate struct {
	kind     domain.Kind
	value    float64
	strategy string
}

// tableGrid is the cell text of one table, row by row
type tableGrid [][]string

// tableStrategy proposes candidates from one table
type tableStrategy struct {
	name    string
	collect func(grid tableGrid, valueRange domain.ValueRange) []tableCandidate
}

// TableStatisticsExtractor recovers scalar aggregates from HTML tables
type TableStatisticsExtractor struct {
	valueRange domain.ValueRange
	strategies []tableStrategy
	logger     *slog.Logger
}

// NewTableStatisticsExtractor creates an extractor with all four strategies
func NewTableStatisticsExtractor(valueRange domain.ValueRange, logger *slog.Logger) *TableStatisticsExtractor {
	if logger == nil {
		logger = slog.Default()
	}
	return &TableStatisticsExtractor{
		valueRange: valueRange,
		strategies: []tableStrategy{
			{name: "header_pairing", collect: headerPairing},
			{name: "labelled_cells", collect: labelledCells},
			{name: "positional", collect: positionalCells},
			{name: "keyword_proximity", collect: keywordProximity},
		},
		logger: logger,
	}
}

// Extract returns one sample per aggregate recovered from the document's
// tables, all stamped at at. Candidates of all strategies are pooled and the
// most frequent value per aggregate wins.
func (e *TableStatisticsExtractor) Extract(doc *Document, at time.Time) []domain.Sample {
	if doc == nil || doc.Sel == nil {
		return nil
	}

	var candidates []tableCandidate
	doc.Sel.Find("table").Each(func(i int, table *goquery.Selection) {
		grid := gridOf(table)
		if !e.qualifies(grid) {
			return
		}
		for _, strategy := range e.strategies {
			found := strategy.collect(grid, e.valueRange)
			if len(found) > 0 {
				e.logger.Debug("table strategy found candidates", "table", i, "strategy", strategy.name, "count", len(found))
			}
			candidates = append(candidates, found...)
		}
	})

	winners := reconcile(candidates)
	samples := make([]domain.Sample, 0, len(winners))
	for _, kind := range domain.AggregateKinds {
		if v, ok := winners[kind]; ok {
			samples = append(samples, domain.Sample{Timestamp: at, Value: v, Kind: kind})
		}
	}
	return samples
}

// qualifies keeps tables with an aggregate keyword and a plausible number that
// are not time range selectors
func (e *TableStatisticsExtractor) qualifies(grid tableGrid) bool {
	text := grid.text()
	if !aggregateKeyword.MatchString(text) {
		return false
	}
	if isTimeRangeSelector(text) {
		return false
	}
	for _, raw := range plainNumber.FindAllString(text, -1) {
		if v, err := strconv.ParseFloat(raw, 64); err == nil && e.valueRange.Contains(v) {
			return true
		}
	}
	return false
}

func isTimeRangeSelector(text string) bool {
	if rangeVocabulary.MatchString(text) {
		return true
	}
	count := 0
	for _, m := range rangeToken.FindAllStringSubmatch(text, -1) {
		if n, err := strconv.Atoi(m[1]); err == nil && n >= 1 && n <= 400 {
			count++
		}
	}
	return count >= 2
}

// reconcile picks the most frequent value per aggregate; ties go to the value seen first
func reconcile(candidates []tableCandidate) map[domain.Kind]float64 {
	type tally struct {
		values []float64
		counts map[float64]int
	}
	tallies := make(map[domain.Kind]*tally)

	for _, c := range candidates {
		t, ok := tallies[c.kind]
		if !ok {
			t = &tally{counts: make(map[float64]int)}
			tallies[c.kind] = t
		}
		if t.counts[c.value] == 0 {
			t.values = append(t.values, c.value)
		}
		t.counts[c.value]++
	}

	winners := make(map[domain.Kind]float64, len(tallies))
	for kind, t := range tallies {
		best := t.values[0]
		for _, v := range t.values[1:] {
			if t.counts[v] > t.counts[best] {
				best = v
			}
		}
		winners[kind] = best
	}
	return winners
}

// headerPairing reads aggregate columns under a header row and aggregate rows
// labelled in their first cell
func headerPairing(grid tableGrid, valueRange domain.ValueRange) []tableCandidate {
	var candidates []tableCandidate
	var columns map[int]domain.Kind

	for _, row := range grid {
		if header := headerColumns(row); len(header) >= 2 {
			columns = header
			continue
		}

		if len(row) >= 2 {
			if kind, ok := aggregateKind(row[0]); ok {
				for _, cell := range row[1:] {
					if v, ok := ParseNumberCell(cell); ok && valueRange.Contains(v) {
						candidates = append(candidates, tableCandidate{kind: kind, value: v, strategy: "header_pairing"})
						break
					}
				}
				continue
			}
		}

		for j, cell := range row {
			kind, ok := columns[j]
			if !ok {
				continue
			}
			if v, ok := ParseNumberCell(cell); ok && valueRange.Contains(v) {
				candidates = append(candidates, tableCandidate{kind: kind, value: v, strategy: "header_pairing"})
			}
		}
	}
	return candidates
}

func headerColumns(row []string) map[int]domain.Kind {
	columns := make(map[int]domain.Kind)
	for j, cell := range row {
		if _, numeric := ParseNumberCell(cell); numeric {
			return nil
		}
		if kind, ok := aggregateKind(cell); ok {
			columns[j] = kind
		}
	}
	return columns
}

// labelledCells matches "label: number[unit]" inside single cells
func labelledCells(grid tableGrid, valueRange domain.ValueRange) []tableCandidate {
	var candidates []tableCandidate
	for _, row := range grid {
		for _, cell := range row {
			for _, m := range labelledNumber.FindAllStringSubmatch(cell, -1) {
				kind, ok := aggregateKind(m[1])
				if !ok {
					continue
				}
				if v, ok := parseDecimal(m[2]); ok && valueRange.Contains(v) {
					candidates = append(candidates, tableCandidate{kind: kind, value: v, strategy: "labelled_cells"})
				}
			}
		}
	}
	return candidates
}

// positionalCells assumes rows with exactly four numeric cells are min, max, average, last
func positionalCells(grid tableGrid, valueRange domain.ValueRange) []tableCandidate {
	var candidates []tableCandidate
	for _, row := range grid {
		var numeric []float64
		for _, cell := range row {
			if v, ok := ParseNumberCell(cell); ok {
				numeric = append(numeric, v)
			}
		}
		if len(numeric) != len(legendPositional) {
			continue
		}
		for j, v := range numeric {
			if valueRange.Contains(v) {
				candidates = append(candidates, tableCandidate{kind: legendPositional[j], value: v, strategy: "positional"})
			}
		}
	}
	return candidates
}

// keywordProximity pairs a keyword cell with the next numeric cell of the same row
func keywordProximity(grid tableGrid, valueRange domain.ValueRange) []tableCandidate {
	var candidates []tableCandidate
	for _, row := range grid {
		var pending domain.Kind
		for _, cell := range row {
			if v, ok := ParseNumberCell(cell); ok {
				if pending != "" && valueRange.Contains(v) {
					candidates = append(candidates, tableCandidate{kind: pending, value: v, strategy: "keyword_proximity"})
				}
				pending = ""
				continue
			}
			if m := aggregateKeyword.FindString(cell); m != "" {
				pending, _ = aggregateKind(m)
			}
		}
	}
	return candidates
}

// gridOf returns the cell texts of the rows that belong to table itself,
// skipping rows of nested tables
func gridOf(table *goquery.Selection) tableGrid {
	var grid tableGrid
	self := table.Get(0)
	table.Find("tr").Each(func(_ int, row *goquery.Selection) {
		if row.Closest("table").Get(0) != self {
			return
		}
		var cells []string
		row.ChildrenFiltered("th, td").Each(func(_ int, cell *goquery.Selection) {
			cells = append(cells, strings.Join(strings.Fields(cell.Text()), " "))
		})
		if len(cells) > 0 {
			grid = append(grid, cells)
		}
	})
	return grid
}

func (g tableGrid) text() string {
	var b strings.Builder
	for _, row := range g {
		b.WriteString(strings.Join(row, " "))
		b.WriteByte('\n')
	}
	return b.String()
}
