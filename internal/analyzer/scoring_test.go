package analyzer

import (
	"math"
	"reflect"
	"strings"
	"testing"

	"github.com/pagelift/pagelift/internal/fetch"
)

// perfectPage has no deductions in any category.
func perfectPage() fetch.Page {
	return fetch.Page{
		URL:                  "https://example.com/guide",
		Domain:               "example.com",
		HTTPS:                true,
		Title:                "The Complete Widget Buying Guide",
		MetaDescription:      "Compare widget models, prices, and warranties before you buy.",
		H1Count:              1,
		ImageCount:           4,
		ImagesMissingAlt:     0,
		InternalLinks:        12,
		ExternalLinks:        3,
		HasViewport:          true,
		HasCanonical:         true,
		StructuredDataBlocks: 1,
		InsecureResources:    0,
		FetchMillis:          240,
		TextLength:           5200,
	}
}

func TestWeightsSumToOne(t *testing.T) {
	var sum float64
	for _, c := range categories {
		sum += c.Weight
	}
	if math.Abs(sum-1.0) > 1e-9 {
		t.Errorf("category weights sum to %v, want 1.0", sum)
	}
}

func TestGrade(t *testing.T) {
	tests := []struct {
		score float64
		want  string
	}{
		{100, "A"},
		{90, "A"},
		{89.9, "B"},
		{82, "B"},
		{75, "B"},
		{74.9, "C"},
		{60, "C"},
		{59.9, "D"},
		{0, "D"},
	}
	for _, tt := range tests {
		if got := Grade(tt.score); got != tt.want {
			t.Errorf("Grade(%v) = %q, want %q", tt.score, got, tt.want)
		}
	}
}

func TestScorePage_PerfectPage(t *testing.T) {
	scores, issues, recs := scorePage(perfectPage())

	for _, c := range categories {
		if scores[c.Name] != 100 {
			t.Errorf("%s = %v, want 100", c.Name, scores[c.Name])
		}
	}
	if len(issues) != 0 {
		t.Errorf("issues = %v, want none", issues)
	}
	if len(recs) != 0 {
		t.Errorf("recommendations = %v, want none", recs)
	}
	if got := overallScore(scores); got != 100 {
		t.Errorf("overall = %v, want 100", got)
	}
}

func TestScorePage_ProblemPage(t *testing.T) {
	p := fetch.Page{
		URL:         "http://example.com/",
		Domain:      "example.com",
		HTTPS:       false,
		FetchMillis: 3500,
		TextLength:  400,
	}
	scores, issues, _ := scorePage(p)

	if scores[CategorySecurity] != 40 {
		t.Errorf("security = %v, want 40 for plain http", scores[CategorySecurity])
	}
	if scores[CategoryMobile] != 35 {
		t.Errorf("mobile = %v, want 35 (no viewport, slow load)", scores[CategoryMobile])
	}
	if scores[CategoryStructuredData] != 25 {
		t.Errorf("structuredData = %v, want 25", scores[CategoryStructuredData])
	}

	overall := overallScore(scores)
	if Grade(overall) != "D" {
		t.Errorf("grade = %q for overall %v, want D", Grade(overall), overall)
	}

	var sawHTTP, sawViewport bool
	for _, is := range issues {
		if strings.Contains(is.Message, "plain http") {
			sawHTTP = true
			if is.Severity != SeverityError {
				t.Errorf("http issue severity = %q, want error", is.Severity)
			}
		}
		if strings.Contains(is.Message, "viewport") {
			sawViewport = true
		}
	}
	if !sawHTTP || !sawViewport {
		t.Errorf("issues missing expected entries: %v", issues)
	}
}

func TestScorePage_MixedContent(t *testing.T) {
	p := perfectPage()
	p.InsecureResources = 2
	scores, issues, _ := scorePage(p)

	if scores[CategorySecurity] != 70 {
		t.Errorf("security = %v, want 70 for mixed content", scores[CategorySecurity])
	}
	found := false
	for _, is := range issues {
		if is.Category == CategorySecurity && strings.Contains(is.Message, "mixed content") {
			found = true
		}
	}
	if !found {
		t.Errorf("expected a mixed content issue, got %v", issues)
	}
}

func TestScorePage_Deterministic(t *testing.T) {
	p := perfectPage()
	p.Title = ""
	p.ImagesMissingAlt = 2

	s1, i1, r1 := scorePage(p)
	s2, i2, r2 := scorePage(p)

	if !reflect.DeepEqual(s1, s2) || !reflect.DeepEqual(i1, i2) || !reflect.DeepEqual(r1, r2) {
		t.Error("scorePage is not deterministic for identical input")
	}
}

func TestOverallScore_Weighting(t *testing.T) {
	scores := map[string]float64{
		CategoryPerformance:    100,
		CategoryContent:        0,
		CategorySecurity:       0,
		CategoryMobile:         0,
		CategoryStructuredData: 0,
	}
	if got := overallScore(scores); got != 30 {
		t.Errorf("performance-only overall = %v, want 30", got)
	}

	for k := range scores {
		scores[k] = 80
	}
	if got := overallScore(scores); got != 80 {
		t.Errorf("uniform overall = %v, want 80", got)
	}
}
