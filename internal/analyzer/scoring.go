package analyzer

import (
	"fmt"
	"math"

	"github.com/pagelift/pagelift/internal/fetch"
)

// pageAudit accumulates issues and recommendations while scoring one page.
type pageAudit struct {
	page  fetch.Page
	found []Issue
	recs  []string
}

func (a *pageAudit) flag(category, severity, message string) {
	a.found = append(a.found, Issue{Category: category, Severity: severity, Message: message})
}

func (a *pageAudit) recommend(message string) {
	a.recs = append(a.recs, message)
}

// scorePage derives every category score from one fetched page. Scoring is
// pure arithmetic over the page signals, so identical pages always produce
// identical results.
func scorePage(p fetch.Page) (map[string]float64, []Issue, []string) {
	a := &pageAudit{page: p}
	scores := map[string]float64{
		CategoryPerformance:    a.performance(),
		CategoryContent:        a.content(),
		CategorySecurity:       a.security(),
		CategoryMobile:         a.mobile(),
		CategoryStructuredData: a.structuredData(),
	}
	return scores, a.found, a.recs
}

// overallScore is the weighted mean of the category scores, rounded to one
// decimal place.
func overallScore(scores map[string]float64) float64 {
	var total float64
	for _, c := range categories {
		total += scores[c.Name] * c.Weight
	}
	return math.Round(total*10) / 10
}

func (a *pageAudit) performance() float64 {
	score := 100.0

	switch {
	case a.page.FetchMillis > 3000:
		score -= 40
		a.flag(CategoryPerformance, SeverityError,
			fmt.Sprintf("page took %dms to respond", a.page.FetchMillis))
		a.recommend("Bring server response time under 3 seconds; slow pages are demoted in rankings")
	case a.page.FetchMillis > 1000:
		score -= 20
		a.flag(CategoryPerformance, SeverityWarning,
			fmt.Sprintf("page took %dms to respond", a.page.FetchMillis))
		a.recommend("Aim for a server response time under one second")
	}

	if a.page.ImageCount > 30 {
		score -= 15
		a.flag(CategoryPerformance, SeverityWarning,
			fmt.Sprintf("%d images on a single page", a.page.ImageCount))
		a.recommend("Lazy-load below-the-fold images to cut initial page weight")
	}

	if total := a.page.InternalLinks + a.page.ExternalLinks; total > 300 {
		score -= 10
		a.flag(CategoryPerformance, SeverityInfo,
			fmt.Sprintf("%d links suggest an oversized DOM", total))
	}

	return clamp(score)
}

func (a *pageAudit) content() float64 {
	score := 100.0

	switch title := a.page.Title; {
	case title == "":
		score -= 25
		a.flag(CategoryContent, SeverityError, "page has no <title>")
		a.recommend("Add a descriptive title tag; it is the strongest on-page ranking signal")
	case len(title) < 10 || len(title) > 70:
		score -= 10
		a.flag(CategoryContent, SeverityWarning,
			fmt.Sprintf("title is %d characters, outside the 10-70 range", len(title)))
		a.recommend("Keep the title between 10 and 70 characters so it displays untruncated")
	}

	switch desc := a.page.MetaDescription; {
	case desc == "":
		score -= 20
		a.flag(CategoryContent, SeverityWarning, "missing meta description")
		a.recommend("Write a meta description of 50-160 characters to control the search snippet")
	case len(desc) > 160:
		score -= 5
		a.flag(CategoryContent, SeverityInfo,
			fmt.Sprintf("meta description is %d characters and will be truncated", len(desc)))
	}

	switch {
	case a.page.H1Count == 0:
		score -= 15
		a.flag(CategoryContent, SeverityError, "no h1 heading")
		a.recommend("Add exactly one h1 heading naming the page topic")
	case a.page.H1Count > 1:
		score -= 10
		a.flag(CategoryContent, SeverityWarning,
			fmt.Sprintf("%d h1 headings, expected one", a.page.H1Count))
	}

	if a.page.TextLength < 1500 {
		score -= 20
		a.flag(CategoryContent, SeverityWarning,
			fmt.Sprintf("thin content: only %d characters of body text", a.page.TextLength))
		a.recommend("Add substantive copy; thin pages rarely rank for competitive terms")
	}

	if a.page.ImagesMissingAlt > 0 {
		score -= math.Min(15, float64(3*a.page.ImagesMissingAlt))
		a.flag(CategoryContent, SeverityWarning,
			fmt.Sprintf("%d of %d images have no alt text", a.page.ImagesMissingAlt, a.page.ImageCount))
		a.recommend("Give every content image alt text describing what it shows")
	}

	return clamp(score)
}

func (a *pageAudit) security() float64 {
	score := 100.0

	if !a.page.HTTPS {
		score -= 60
		a.flag(CategorySecurity, SeverityError, "page served over plain http")
		a.recommend("Serve the site over https and redirect all http traffic")
	} else if a.page.InsecureResources > 0 {
		score -= 30
		a.flag(CategorySecurity, SeverityError,
			fmt.Sprintf("%d subresources load over http (mixed content)", a.page.InsecureResources))
		a.recommend("Load every script, stylesheet, and image over https")
	}

	return clamp(score)
}

func (a *pageAudit) mobile() float64 {
	score := 100.0

	if !a.page.HasViewport {
		score -= 50
		a.flag(CategoryMobile, SeverityError, "missing viewport meta tag")
		a.recommend(`Add <meta name="viewport" content="width=device-width, initial-scale=1">`)
	}

	if a.page.FetchMillis > 2000 {
		score -= 15
		a.flag(CategoryMobile, SeverityInfo, "load time hurts the mobile experience most")
	}

	return clamp(score)
}

func (a *pageAudit) structuredData() float64 {
	score := 100.0

	if a.page.StructuredDataBlocks == 0 {
		score -= 50
		a.flag(CategoryStructuredData, SeverityWarning, "no JSON-LD structured data")
		a.recommend("Add JSON-LD markup for your content type to qualify for rich results")
	}

	if !a.page.HasCanonical {
		score -= 25
		a.flag(CategoryStructuredData, SeverityWarning, "missing canonical link")
		a.recommend("Declare a canonical URL to consolidate ranking signals across variants")
	}

	return clamp(score)
}

func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
