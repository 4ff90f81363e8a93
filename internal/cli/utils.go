// Package cli provides output formatting for the kakuri command line.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/hyperjump/kakuri/internal/confidence"
	"github.com/hyperjump/kakuri/internal/models"
	"github.com/hyperjump/kakuri/internal/policy"
	"github.com/hyperjump/kakuri/pkg/utils"
)

// OutputFormat is the format for command output.
type OutputFormat string

const (
	// OutputText is human-readable text (default).
	OutputText OutputFormat = "text"
	// OutputJSON is structured JSON for machine consumption.
	OutputJSON OutputFormat = "json"
)

const snippetLen = 200

// ParseOutputFormat accepts "text" or "json".
func ParseOutputFormat(s string) (OutputFormat, error) {
	switch OutputFormat(strings.ToLower(s)) {
	case OutputText, "":
		return OutputText, nil
	case OutputJSON:
		return OutputJSON, nil
	default:
		return "", fmt.Errorf("unknown output format %q (want text or json)", s)
	}
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// WriteQueryResponse writes a pipeline response to w in the given format.
func WriteQueryResponse(w io.Writer, resp *models.QueryResponse, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, resp)
	}
	fmt.Fprintf(w, "\nQuery: %s\n", resp.Query)
	if resp.CanonicalQuery != "" && resp.CanonicalQuery != resp.Query {
		fmt.Fprintf(w, "Canonical: %s\n", resp.CanonicalQuery)
	}
	fmt.Fprintf(w, "Role: %s | Policy: %s\n", resp.Role, shortVersion(resp.PolicyVersion))
	fmt.Fprintf(w, "Selected %d chunks in %dms\n\n", resp.Stats.Selected, resp.Stats.QueryTimeMs)
	if resp.Degraded != "" {
		fmt.Fprintf(w, "Search degraded: %s\n\n", resp.Degraded)
	}

	for _, rc := range resp.Selection {
		fmt.Fprintf(w, "─────────────────────────────────────────────────────────\n")
		fmt.Fprintf(w, "Rank: %d | Similarity: %.4f | Department: %s\n", rc.Rank, rc.Similarity, orDash(rc.Chunk.Department))
		fmt.Fprintf(w, "ID: %s\n", rc.Chunk.ID)
		fmt.Fprintf(w, "\n%s\n\n", utils.Truncate(strings.TrimSpace(rc.Chunk.Content), snippetLen))
	}

	if resp.Answer != "" {
		fmt.Fprintf(w, "Answer:\n%s\n\n", resp.Answer)
	}
	fmt.Fprintln(w, confidence.Format(resp.Confidence))
	if resp.Sources != "" {
		fmt.Fprintf(w, "\n%s\n", resp.Sources)
	}
	for _, warning := range resp.Warnings {
		fmt.Fprintf(w, "Warning: %s\n", warning)
	}
	return nil
}

// PolicyReport is the resolved view of a policy.
type PolicyReport struct {
	Path                string              `json:"path"`
	Version             string              `json:"version"`
	UnlabeledDepartment string              `json:"unlabeled_department"`
	DefaultDepartments  []string            `json:"default_departments"`
	Roles               map[string][]string `json:"roles"`
	Lookups             []RoleLookup        `json:"lookups,omitempty"`
}

// RoleLookup is how one requested role resolves. Unknown roles get the default
// departments.
type RoleLookup struct {
	Role        string   `json:"role"`
	Known       bool     `json:"known"`
	Departments []string `json:"departments"`
}

// NewPolicyReport resolves every role of e, plus each role in lookup as a request
// carrying it would see it.
func NewPolicyReport(path string, e *policy.Engine, lookup ...string) *PolicyReport {
	r := &PolicyReport{
		Path:                path,
		Version:             e.Version(),
		UnlabeledDepartment: e.UnlabeledDepartment(),
		DefaultDepartments:  e.Defaults().Departments(),
		Roles:               make(map[string][]string),
	}
	for _, role := range e.Roles() {
		access, _ := e.Resolve(role)
		if access.All {
			r.Roles[role] = []string{policy.AllSentinel}
			continue
		}
		r.Roles[role] = access.Departments()
	}
	for _, role := range lookup {
		role = strings.TrimSpace(role)
		if role == "" {
			continue
		}
		l := RoleLookup{Role: role, Known: e.Known(role)}
		if access := e.AllowedDepartments(role); access.All {
			l.Departments = []string{policy.AllSentinel}
		} else {
			l.Departments = access.Departments()
		}
		r.Lookups = append(r.Lookups, l)
	}
	return r
}

// WritePolicyReport writes a policy report to w in the given format.
func WritePolicyReport(w io.Writer, r *PolicyReport, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, r)
	}
	fmt.Fprintf(w, "Policy OK: %s\n", r.Path)
	fmt.Fprintf(w, "Version: %s\n", r.Version)
	fmt.Fprintf(w, "Unlabeled chunks: %s\n", r.UnlabeledDepartment)
	fmt.Fprintf(w, "Unknown roles: %s\n\n", strings.Join(r.DefaultDepartments, ", "))
	roles := make([]string, 0, len(r.Roles))
	width := 0
	for role := range r.Roles {
		roles = append(roles, role)
		if len(role) > width {
			width = len(role)
		}
	}
	sort.Strings(roles)
	for _, role := range roles {
		fmt.Fprintf(w, "  %-*s  %s\n", width, role, strings.Join(r.Roles[role], ", "))
	}
	if len(r.Lookups) > 0 {
		fmt.Fprintln(w, "\nLookups:")
		for _, l := range r.Lookups {
			note := ""
			if !l.Known {
				note = " (unknown role, default departments)"
			}
			fmt.Fprintf(w, "  %s  %s%s\n", l.Role, strings.Join(l.Departments, ", "), note)
		}
	}
	return nil
}

// WriteAuditSummary writes an audit summary to w in the given format.
func WriteAuditSummary(w io.Writer, s *models.AuditSummary, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, s)
	}
	fmt.Fprintf(w, "Filter decisions since %s\n", s.Since.Format("2006-01-02 15:04:05 MST"))
	fmt.Fprintf(w, "Requests: %d | Decisions: %d | Allowed: %d | Denied: %d\n",
		s.Requests, s.Totals.Total(), s.Totals.Allowed, s.Totals.Denied)
	writeCounts(w, "By role", s.ByRole)
	writeCounts(w, "By department", s.ByDepartment)
	return nil
}

func writeCounts(w io.Writer, title string, counts map[string]models.DecisionCounts) {
	if len(counts) == 0 {
		return
	}
	keys := make([]string, 0, len(counts))
	width := 0
	for k := range counts {
		keys = append(keys, k)
		if len(k) > width {
			width = len(k)
		}
	}
	sort.Strings(keys)
	fmt.Fprintf(w, "\n%s:\n", title)
	for _, k := range keys {
		c := counts[k]
		fmt.Fprintf(w, "  %-*s  allowed %d, denied %d\n", width, orDash(k), c.Allowed, c.Denied)
	}
}

func shortVersion(v string) string {
	if len(v) > 12 {
		return v[:12]
	}
	return orDash(v)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
