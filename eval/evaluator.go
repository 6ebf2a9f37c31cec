// Package eval measures retrieval quality against datasets of queries with
// known answers.
package eval

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/bbiangul/agrokg/retrieval"
)

// Querier is the slice of agrokg.Engine the evaluator runs against.
type Querier interface {
	StructuredQuery(ctx context.Context, f retrieval.Filters) ([]retrieval.UseResult, error)
	VectorQuery(ctx context.Context, text string, k int) ([]retrieval.ChunkResult, error)
	HybridQuery(ctx context.Context, text string, k int) ([]retrieval.HybridResult, *retrieval.Trace, error)
}

// Evaluator runs evaluation datasets against an engine.
type Evaluator struct {
	engine   Querier
	defaultK int
}

// NewEvaluator creates a new evaluator. Cases without k use 10.
func NewEvaluator(engine Querier) *Evaluator {
	return &Evaluator{engine: engine, defaultK: 10}
}

// Report holds the results of an evaluation run.
type Report struct {
	Dataset         string                      `json:"dataset"`
	TotalTests      int                         `json:"total_tests"`
	Passed          int                         `json:"passed"`
	Failed          int                         `json:"failed"`
	Errors          int                         `json:"errors"`
	Metrics         AggregateMetrics            `json:"metrics"`
	CategoryMetrics map[string]AggregateMetrics `json:"category_metrics,omitempty"`
	Results         []TestResult                `json:"results"`
	RunTime         time.Duration               `json:"run_time"`
}

// AggregateMetrics holds averaged metrics across tests.
type AggregateMetrics struct {
	MRR       float64         `json:"mrr"`
	Precision map[int]float64 `json:"precision"` // k -> P@k
	Recall    map[int]float64 `json:"recall"`    // k -> R@k
	Fallbacks int             `json:"fallbacks,omitempty"`
}

// TestResult holds the result of a single test case.
type TestResult struct {
	Query          string          `json:"query,omitempty"`
	Mode           string          `json:"mode"`
	Category       string          `json:"category,omitempty"`
	Expected       []string        `json:"expected"`
	Retrieved      []string        `json:"retrieved"`
	ReciprocalRank float64         `json:"reciprocal_rank"`
	Precision      map[int]float64 `json:"precision,omitempty"`
	Recall         map[int]float64 `json:"recall,omitempty"`
	Fallback       string          `json:"fallback,omitempty"`
	Passed         bool            `json:"passed"`
	Error          string          `json:"error,omitempty"`
	ElapsedMs      int64           `json:"elapsed_ms"`
}

// Run executes every test in dataset. A case passes when every expected id
// is retrieved within its k.
func (e *Evaluator) Run(ctx context.Context, dataset Dataset) (*Report, error) {
	if err := dataset.Validate(); err != nil {
		return nil, err
	}
	start := time.Now()
	report := &Report{
		Dataset:         dataset.Name,
		TotalTests:      len(dataset.Tests),
		CategoryMetrics: make(map[string]AggregateMetrics),
	}

	total := newAccumulator()
	byCat := make(map[string]*accumulator)

	for i, test := range dataset.Tests {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		result := e.runTest(ctx, test)
		report.Results = append(report.Results, result)

		status := "PASS"
		switch {
		case result.Error != "":
			status = "ERROR"
			report.Errors++
		case !result.Passed:
			status = "FAIL"
		}
		slog.Info("eval: test complete",
			"progress", fmt.Sprintf("%d/%d", i+1, len(dataset.Tests)),
			"status", status,
			"mode", result.Mode,
			"rr", fmt.Sprintf("%.2f", result.ReciprocalRank),
			"elapsed_ms", result.ElapsedMs,
			"query", truncate(describe(test), 80))

		if result.Passed {
			report.Passed++
		} else {
			report.Failed++
		}

		// Errors would contribute zeros and depress the averages.
		if result.Error != "" {
			continue
		}
		total.add(result)
		if test.Category != "" {
			if byCat[test.Category] == nil {
				byCat[test.Category] = newAccumulator()
			}
			byCat[test.Category].add(result)
		}
	}

	report.Metrics = total.mean()
	for cat, acc := range byCat {
		report.CategoryMetrics[cat] = acc.mean()
	}
	report.RunTime = time.Since(start)
	return report, nil
}

func (e *Evaluator) runTest(ctx context.Context, test TestCase) TestResult {
	testStart := time.Now()
	result := TestResult{
		Query:    test.Query,
		Mode:     test.Mode,
		Category: test.Category,
		Expected: test.Expected,
	}
	k := test.K
	if k <= 0 {
		k = e.defaultK
	}

	var (
		ids []string
		err error
	)
	switch test.Mode {
	case ModeStructured:
		var rows []retrieval.UseResult
		rows, err = e.engine.StructuredQuery(ctx, *test.Filters)
		for _, r := range rows {
			ids = append(ids, r.RegistrationNumber)
		}
	case ModeVector:
		var hits []retrieval.ChunkResult
		hits, err = e.engine.VectorQuery(ctx, test.Query, k)
		for _, h := range hits {
			ids = append(ids, h.Document)
		}
	default:
		var (
			res   []retrieval.HybridResult
			trace *retrieval.Trace
		)
		res, trace, err = e.engine.HybridQuery(ctx, test.Query, k)
		ids = hybridIDs(res)
		if trace != nil && trace.Fallback {
			result.Fallback = trace.FallbackReason
		}
	}
	result.ElapsedMs = time.Since(testStart).Milliseconds()
	if err != nil {
		result.Error = err.Error()
		return result
	}

	result.Retrieved = dedupe(ids)
	result.ReciprocalRank = reciprocalRank(result.Retrieved, test.Expected)
	result.Precision = make(map[int]float64, len(RetrievalKValues))
	result.Recall = make(map[int]float64, len(RetrievalKValues))
	for _, kv := range RetrievalKValues {
		result.Precision[kv] = precisionAtK(result.Retrieved, test.Expected, kv)
		result.Recall[kv] = recallAtK(result.Retrieved, test.Expected, kv)
	}
	result.Passed = recallAtK(result.Retrieved, test.Expected, k) == 1
	return result
}

// hybridIDs flattens hybrid results into the registration numbers of their
// attached facts, in rank order.
func hybridIDs(res []retrieval.HybridResult) []string {
	var ids []string
	for _, r := range res {
		for _, f := range r.Facts {
			ids = append(ids, f.RegistrationNumber)
		}
	}
	return ids
}

type accumulator struct {
	n         int
	rr        float64
	precision map[int]float64
	recall    map[int]float64
	fallbacks int
}

func newAccumulator() *accumulator {
	return &accumulator{precision: make(map[int]float64), recall: make(map[int]float64)}
}

func (a *accumulator) add(r TestResult) {
	a.n++
	a.rr += r.ReciprocalRank
	for _, k := range RetrievalKValues {
		a.precision[k] += r.Precision[k]
		a.recall[k] += r.Recall[k]
	}
	if r.Fallback != "" {
		a.fallbacks++
	}
}

func (a *accumulator) mean() AggregateMetrics {
	m := AggregateMetrics{
		Precision: make(map[int]float64),
		Recall:    make(map[int]float64),
		Fallbacks: a.fallbacks,
	}
	if a.n == 0 {
		return m
	}
	n := float64(a.n)
	m.MRR = a.rr / n
	for _, k := range RetrievalKValues {
		m.Precision[k] = a.precision[k] / n
		m.Recall[k] = a.recall[k] / n
	}
	return m
}

// FormatReport renders a report for terminals.
func FormatReport(r *Report) string {
	var b strings.Builder
	fmt.Fprintf(&b, "=== Evaluation Report: %s ===\n", r.Dataset)
	fmt.Fprintf(&b, "Total: %d | Passed: %d (%.1f%%) | Failed: %d | Errors: %d\n",
		r.TotalTests, r.Passed, passRate(r.Passed, r.TotalTests), r.Failed, r.Errors)
	fmt.Fprintf(&b, "Run time: %s\n\n", r.RunTime.Round(time.Millisecond))

	fmt.Fprintf(&b, "Aggregate Metrics:\n")
	writeMetrics(&b, "  ", r.Metrics)
	fmt.Fprintln(&b)

	if len(r.CategoryMetrics) > 0 {
		cats := make([]string, 0, len(r.CategoryMetrics))
		for cat := range r.CategoryMetrics {
			cats = append(cats, cat)
		}
		sort.Strings(cats)

		fmt.Fprintf(&b, "Per-Category Metrics:\n")
		for _, cat := range cats {
			fmt.Fprintf(&b, "  [%s]\n", cat)
			writeMetrics(&b, "    ", r.CategoryMetrics[cat])
		}
		fmt.Fprintln(&b)
	}

	for i, res := range r.Results {
		status := "PASS"
		if !res.Passed {
			status = "FAIL"
		}
		if res.Error != "" {
			status = "ERROR"
		}
		fmt.Fprintf(&b, "[%s] %d. (%s) %s\n", status, i+1, res.Mode, truncate(res.Query, 80))
		if res.Error != "" {
			fmt.Fprintf(&b, "  Error: %s\n", res.Error)
			continue
		}
		fmt.Fprintf(&b, "  RR=%.2f expected=%v retrieved=%v  (%dms)\n",
			res.ReciprocalRank, res.Expected, topK(res.Retrieved, 10), res.ElapsedMs)
		if res.Fallback != "" {
			fmt.Fprintf(&b, "  fallback: %s\n", res.Fallback)
		}
	}
	return b.String()
}

func writeMetrics(b *strings.Builder, indent string, m AggregateMetrics) {
	fmt.Fprintf(b, "%sMRR: %.3f\n", indent, m.MRR)
	for _, k := range RetrievalKValues {
		fmt.Fprintf(b, "%sP@%-3d %.1f%%   R@%-3d %.1f%%\n", indent, k, m.Precision[k]*100, k, m.Recall[k]*100)
	}
	if m.Fallbacks > 0 {
		fmt.Fprintf(b, "%sKeyword fallbacks: %d\n", indent, m.Fallbacks)
	}
}

func describe(t TestCase) string {
	if t.Query != "" {
		return t.Query
	}
	if t.Filters != nil {
		return fmt.Sprintf("%+v", *t.Filters)
	}
	return ""
}

func passRate(passed, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(passed) / float64(total) * 100
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
