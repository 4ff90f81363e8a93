package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"github.com/hyperjump/kakuri/internal/confidence"
	"github.com/hyperjump/kakuri/internal/config"
	"github.com/hyperjump/kakuri/internal/embedding"
	"github.com/hyperjump/kakuri/internal/indexer"
	"github.com/hyperjump/kakuri/internal/keyword"
	"github.com/hyperjump/kakuri/internal/models"
	"github.com/hyperjump/kakuri/internal/pipeline"
	"github.com/hyperjump/kakuri/internal/policy"
	"github.com/hyperjump/kakuri/internal/ranking"
	"github.com/hyperjump/kakuri/internal/search"
	"github.com/hyperjump/kakuri/internal/server"
	"github.com/hyperjump/kakuri/internal/storage"
	"github.com/hyperjump/kakuri/internal/vector"
)

const (
	e2eDimensions = 32
	e2eTopK       = 5
	e2eCutoff     = 0.05
)

// newE2EServer indexes the corpus into on-disk stores and serves a keyword-backed
// pipeline over HTTP.
func newE2EServer(t *testing.T, corpus *Corpus) *httptest.Server {
	t.Helper()
	dir := t.TempDir()
	ctx := context.Background()

	store, err := storage.NewSQLiteStorage(filepath.Join(dir, "db.sqlite"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })

	embedder := embedding.NewHashEmbedder(e2eDimensions)
	vecIndex, err := vector.NewMemoryIndex(e2eDimensions)
	if err != nil {
		t.Fatal(err)
	}
	kwIndex, err := keyword.NewBleveIndex(filepath.Join(dir, "bleve"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { kwIndex.Close() })

	idx := indexer.NewIndexer(store, embedder, vecIndex, kwIndex)
	if err := idx.IndexChunks(ctx, corpus.Models()); err != nil {
		t.Fatalf("index corpus: %v", err)
	}

	policyPath := filepath.Join(dir, "policy.yaml")
	if err := os.WriteFile(policyPath, []byte(Policy), 0600); err != nil {
		t.Fatal(err)
	}
	engine, err := policy.Load(policyPath)
	if err != nil {
		t.Fatal(err)
	}
	policies := policy.NewStore(engine, policyPath, nil)

	selector, err := ranking.NewSelector(e2eTopK, e2eCutoff, ranking.HigherIsBetter)
	if err != nil {
		t.Fatal(err)
	}
	scorer, err := confidence.NewScorer(confidence.DefaultWeights(), confidence.DefaultThresholds(), 5, 1000)
	if err != nil {
		t.Fatal(err)
	}
	source := search.NewKeywordSource(kwIndex, store, nil, nil)
	p, err := pipeline.New(policies, source, selector, scorer)
	if err != nil {
		t.Fatal(err)
	}

	cfg := &config.Config{}
	cfg.Index.Backend = config.BackendKeyword
	srv := httptest.NewServer(server.NewServer(p, policies, store, cfg, nil).Handler())
	t.Cleanup(srv.Close)
	return srv
}

func postQuery(t *testing.T, baseURL, role, query string) *models.QueryResponse {
	t.Helper()
	body, _ := json.Marshal(models.QueryRequest{Query: query})
	req, err := http.NewRequest(http.MethodPost, baseURL+"/api/v1/query", bytes.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set(server.RoleHeader, role)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("query %q as %s: status %d", query, role, resp.StatusCode)
	}
	var out models.QueryResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	return &out
}

func TestE2E_RolesSeeOnlyTheirDepartments(t *testing.T) {
	corpus := BuildCorpus()
	srv := newE2EServer(t, corpus)

	roles := make([]string, 0, len(RoleAccess))
	for role := range RoleAccess {
		roles = append(roles, role)
	}
	sort.Strings(roles)

	for _, role := range roles {
		for _, tc := range corpus.TestCases {
			role, tc := role, tc
			t.Run(role+"/"+tc.Description, func(t *testing.T) {
				resp := postQuery(t, srv.URL, role, tc.Query)

				found := false
				for _, rc := range resp.Selection {
					if !CanSee(role, rc.Chunk.Department) {
						t.Fatalf("leak: %s saw %s (department %q)", role, rc.Chunk.ID, rc.Chunk.Department)
					}
					if rc.Chunk.ID == tc.OwnerID {
						found = true
					}
				}
				if want := CanSee(role, tc.Department); found != want {
					t.Errorf("owner %s in selection = %v, want %v (selection %v)", tc.OwnerID, found, want, ids(resp))
				}
				if len(resp.Selection) > e2eTopK {
					t.Errorf("selection size %d exceeds top_k", len(resp.Selection))
				}
				for _, c := range resp.Citations {
					if !strings.Contains(resp.Sources, c.SourceLine) {
						t.Errorf("sources block missing %q", c.SourceLine)
					}
				}
			})
		}
	}
}

func TestE2E_MissingRoleHeaderIsRejected(t *testing.T) {
	srv := newE2EServer(t, BuildCorpus())
	resp, err := http.Post(srv.URL+"/api/v1/query", "application/json",
		strings.NewReader(`{"query":"quarterly revenue forecast","role":"executive"}`))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401; a role in the body must not be trusted", resp.StatusCode)
	}
}

func TestE2E_PolicyEndpointMatchesRoleAccess(t *testing.T) {
	srv := newE2EServer(t, BuildCorpus())
	resp, err := http.Get(srv.URL + "/api/v1/policy")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var out struct {
		Roles map[string][]string `json:"roles"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	for role, want := range RoleAccess {
		if role == "intern" {
			continue
		}
		got := append([]string(nil), out.Roles[role]...)
		w := append([]string(nil), want...)
		if len(w) == 1 && w[0] == "*" {
			w = []string{policy.AllSentinel}
		}
		sort.Strings(got)
		sort.Strings(w)
		if strings.Join(got, ",") != strings.Join(w, ",") {
			t.Errorf("role %s resolves to %v, want %v", role, got, w)
		}
	}
}

func ids(resp *models.QueryResponse) []string {
	out := make([]string, 0, len(resp.Selection))
	for _, rc := range resp.Selection {
		out = append(out, rc.Chunk.ID)
	}
	return out
}
