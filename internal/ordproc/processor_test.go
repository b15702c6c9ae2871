package ordproc

import (
	"testing"
)

type fakeRepo struct {
	docs map[string]map[string]any
}

func (f *fakeRepo) GetDocuments(dirRel string) map[string]map[string]any { return f.docs }
func (f *fakeRepo) GetDocument(relPath string) map[string]any            { return f.docs[relPath] }

type fakeFP struct{ fp string }

func (f *fakeFP) GetDirectoryHash(string) string { return f.fp }

func TestRewriteURLPreservesAbsoluteURLs(t *testing.T) {
	got := rewriteURL("https://example.com/spec.json", "sap.xref:apiResource:Accounts:v1")
	if got != "https://example.com/spec.json" {
		t.Errorf("expected absolute URL unchanged, got %q", got)
	}
}

func TestRewriteURLRestoresOrdIDSegment(t *testing.T) {
	got := rewriteURL("/sap.xref_apiResource_Accounts_v1/openapi.json", "sap.xref:apiResource:Accounts:v1")
	want := "/ord/v1/sap.xref:apiResource:Accounts:v1/openapi.json"
	if got != want {
		t.Errorf("got %q want %q", got, want)
	}
}

func TestProcessDefaultsPerspectiveAndBaseURL(t *testing.T) {
	repo := &fakeRepo{docs: map[string]map[string]any{
		"documents/a.json": {
			"openResourceDiscovery": "1.9",
			"describedSystemInstance": map[string]any{"baseUrl": "http://stale"},
		},
	}}
	p := New(repo, &fakeFP{fp: "abc123"}, nil, "https://gateway.example.com", "documents", []AccessStrategy{{Type: "open"}}, nil)

	doc, err := p.GetDocument("documents/a.json")
	if err != nil {
		t.Fatalf("GetDocument: %v", err)
	}
	if doc["perspective"] != "system-instance" {
		t.Errorf("expected default perspective, got %v", doc["perspective"])
	}
	inst := doc["describedSystemInstance"].(map[string]any)
	if inst["baseUrl"] != "https://gateway.example.com" {
		t.Errorf("expected baseUrl overwritten, got %v", inst["baseUrl"])
	}
}

func TestProcessInjectsDescribedSystemVersionOnlyForSystemVersionPerspective(t *testing.T) {
	repo := &fakeRepo{docs: map[string]map[string]any{
		"documents/a.json": {
			"openResourceDiscovery": "1.9",
			"perspective":           "system-version",
		},
	}}
	p := New(repo, &fakeFP{fp: "deadbeef01234567"}, nil, "https://gw", "documents", nil, nil)

	doc, err := p.GetDocument("documents/a.json")
	if err != nil {
		t.Fatalf("GetDocument: %v", err)
	}
	v, ok := doc["describedSystemVersion"].(map[string]any)
	if !ok {
		t.Fatalf("expected describedSystemVersion injected, got %v", doc["describedSystemVersion"])
	}
	if v["version"] != "1.0.0-deadbeef" {
		t.Errorf("expected fingerprint-derived version, got %v", v["version"])
	}
}

func TestProcessDoesNotInjectDescribedSystemVersionForSystemInstance(t *testing.T) {
	repo := &fakeRepo{docs: map[string]map[string]any{
		"documents/a.json": {"openResourceDiscovery": "1.9"},
	}}
	p := New(repo, &fakeFP{fp: "abc123"}, nil, "https://gw", "documents", nil, nil)

	doc, err := p.GetDocument("documents/a.json")
	if err != nil {
		t.Fatalf("GetDocument: %v", err)
	}
	if _, ok := doc["describedSystemVersion"]; ok {
		t.Errorf("did not expect describedSystemVersion for default perspective")
	}
}

func TestCacheInvalidatesOnFingerprintChange(t *testing.T) {
	repo := &fakeRepo{docs: map[string]map[string]any{
		"documents/a.json": {"openResourceDiscovery": "1.9"},
	}}
	fp := &fakeFP{fp: "fp1"}
	p := New(repo, fp, nil, "https://gw", "documents", nil, nil)

	first := p.currentEpoch()
	if _, ok := first.getDocument("documents/a.json"); ok {
		t.Fatal("expected empty cache before first read")
	}
	if _, err := p.GetDocument("documents/a.json"); err != nil {
		t.Fatal(err)
	}

	fp.fp = "fp2"
	second := p.currentEpoch()
	if second == first {
		t.Fatal("expected a new epoch after fingerprint change")
	}
	if _, ok := second.getDocument("documents/a.json"); ok {
		t.Error("expected new epoch to start with an empty cache")
	}
}

func TestAccessStrategiesAttachedToResourceDefinitions(t *testing.T) {
	repo := &fakeRepo{docs: map[string]map[string]any{
		"documents/a.json": {
			"openResourceDiscovery": "1.9",
			"apiResources": []any{
				map[string]any{
					"ordId": "sap.xref:apiResource:Accounts:v1",
					"resourceDefinitions": []any{
						map[string]any{"url": "/sap.xref_apiResource_Accounts_v1/openapi.json"},
					},
				},
			},
		},
	}}
	p := New(repo, &fakeFP{fp: "fp1"}, nil, "https://gw", "documents", []AccessStrategy{{Type: "sap:cmp-mtls:v1"}}, nil)

	doc, err := p.GetDocument("documents/a.json")
	if err != nil {
		t.Fatal(err)
	}
	resources := doc["apiResources"].([]any)
	res := resources[0].(map[string]any)
	defs := res["resourceDefinitions"].([]any)
	def := defs[0].(map[string]any)
	strategies := def["accessStrategies"].([]map[string]string)
	if len(strategies) != 1 || strategies[0]["type"] != "sap:cmp-mtls:v1" {
		t.Errorf("expected sap:cmp-mtls:v1 access strategy, got %v", strategies)
	}
	if def["url"] != "/ord/v1/sap.xref:apiResource:Accounts:v1/openapi.json" {
		t.Errorf("expected rewritten url, got %v", def["url"])
	}
}
