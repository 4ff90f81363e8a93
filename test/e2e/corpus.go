// Package e2e provides end-to-end tests over a department-labeled corpus and a set of
// roles, driven through the HTTP API.
package e2e

import (
	"fmt"
	"strings"

	"github.com/hyperjump/kakuri/internal/models"
)

// Department labels used by the corpus. Unlabeled chunks carry an empty department.
const (
	Finance     = "finance"
	HR          = "hr"
	Engineering = "engineering"
	Legal       = "legal"
	General     = "general"
	Unlabeled   = ""
)

// Policy grants each role its own department plus general; legal is kept to itself and
// executive sees everything. Roles not listed fall back to the default departments.
const Policy = `
hierarchy:
  cfo: [finance]
  engineering_manager: [engineering, hr]
department_access:
  finance: [finance, general]
  hr: [hr, general]
  engineering: [engineering, general]
  legal: [legal]
  executive: all
default_departments: [general]
`

// RoleAccess is the department set each role in Policy resolves to. "*" means all,
// including unlabeled chunks.
var RoleAccess = map[string][]string{
	"finance":             {Finance, General},
	"cfo":                 {Finance, General},
	"hr":                  {HR, General},
	"engineering":         {Engineering, General},
	"engineering_manager": {Engineering, HR, General},
	"legal":               {Legal},
	"executive":           {"*"},
	"intern":              {General},
}

// CorpusChunk is one chunk in the corpus.
type CorpusChunk struct {
	ID         string
	Department string
	Content    string
}

// QueryTestCase is a query whose signature phrase appears in exactly one chunk.
type QueryTestCase struct {
	Query       string
	OwnerID     string
	Department  string
	Description string
}

// Corpus holds chunks and query test cases for E2E tests.
type Corpus struct {
	Chunks    []CorpusChunk
	TestCases []QueryTestCase
}

// BuildCorpus returns the corpus. Each chunk has a signature phrase no other chunk uses,
// so a query for it has a single owner.
func BuildCorpus() *Corpus {
	topics := []struct {
		dept    string
		phrase  string
		content string
	}{
		{Finance, "quarterly revenue forecast", "The quarterly revenue forecast projects 12% growth driven by enterprise renewals."},
		{Finance, "capital expenditure budget", "The capital expenditure budget caps datacenter spending at four million."},
		{Finance, "accounts receivable aging", "Accounts receivable aging shows most invoices settle within forty days."},
		{Finance, "treasury hedging program", "The treasury hedging program offsets currency exposure on euro contracts."},
		{Finance, "audited balance sheet", "The audited balance sheet reports strong liquidity and no covenant breaches."},
		{HR, "parental leave entitlement", "Parental leave entitlement is sixteen weeks at full pay for every employee."},
		{HR, "performance review calibration", "Performance review calibration happens each December across all teams."},
		{HR, "salary band adjustments", "Salary band adjustments take effect in April after the compensation cycle."},
		{HR, "onboarding buddy program", "The onboarding buddy program pairs new hires with a mentor for ninety days."},
		{HR, "grievance escalation procedure", "The grievance escalation procedure routes complaints to an independent panel."},
		{Engineering, "incident postmortem template", "The incident postmortem template records timeline, impact and remediation."},
		{Engineering, "kubernetes cluster upgrade", "The kubernetes cluster upgrade moves production nodes to the new release."},
		{Engineering, "database migration runbook", "The database migration runbook describes zero downtime schema changes."},
		{Engineering, "oncall rotation schedule", "The oncall rotation schedule assigns one primary and one secondary per week."},
		{Engineering, "service latency objectives", "Service latency objectives target 200 milliseconds at the 99th percentile."},
		{Legal, "pending patent litigation", "Pending patent litigation concerns a storage compression claim filed in Delaware."},
		{Legal, "vendor indemnification clause", "The vendor indemnification clause covers third party intellectual property claims."},
		{Legal, "regulatory filing deadline", "The regulatory filing deadline for the annual disclosure is the end of March."},
		{General, "office holiday closure", "The office holiday closure runs from December 24 through January 2."},
		{General, "cafeteria lunch menu", "The cafeteria lunch menu rotates weekly and includes vegetarian options."},
		{General, "visitor badge policy", "The visitor badge policy requires guests to sign in at reception."},
		{General, "company town hall", "The company town hall is streamed live on the first Friday of each month."},
		{Unlabeled, "acquisition target shortlist", "The acquisition target shortlist names three analytics startups."},
		{Unlabeled, "board succession memo", "The board succession memo outlines interim leadership arrangements."},
	}

	c := &Corpus{}
	perDept := make(map[string]int)
	for _, tp := range topics {
		perDept[tp.dept]++
		label := tp.dept
		if label == Unlabeled {
			label = "unlabeled"
		}
		id := fmt.Sprintf("e2e-%s-%02d", label, perDept[tp.dept])
		c.Chunks = append(c.Chunks, CorpusChunk{ID: id, Department: tp.dept, Content: tp.content})
		c.TestCases = append(c.TestCases, QueryTestCase{
			Query:       tp.phrase,
			OwnerID:     id,
			Department:  tp.dept,
			Description: fmt.Sprintf("%s owned by %s", tp.phrase, id),
		})
	}
	return c
}

// Models converts the corpus to chunks for indexing.
func (c *Corpus) Models() []*models.Chunk {
	out := make([]*models.Chunk, len(c.Chunks))
	for i, ch := range c.Chunks {
		out[i] = &models.Chunk{ID: ch.ID, Department: ch.Department, Content: ch.Content}
	}
	return out
}

// CanSee reports whether role may see a chunk of department dept under Policy.
func CanSee(role, dept string) bool {
	for _, d := range RoleAccess[role] {
		if d == "*" || (dept != Unlabeled && d == dept) {
			return true
		}
	}
	return false
}

func containsPhrase(content, phrase string) bool {
	return strings.Contains(strings.ToLower(content), strings.ToLower(phrase))
}
