package sink

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/efebarandurmaz/semmed/internal/config"
	"github.com/efebarandurmaz/semmed/internal/predication"
	"github.com/efebarandurmaz/semmed/internal/semtype"
)

func sampleDocuments(t *testing.T) []predication.Document {
	t.Helper()
	types := semtype.New([]semtype.Pair{
		{Code: "gngm", Label: "Gene or Genome"},
		{Code: "neop", Label: "Neoplastic Process"},
	})
	rows := []predication.Row{
		{
			PredicationID: "11", PMID: "31415", Predicate: "ASSOCIATED_WITH",
			Subject: predication.Argument{CUI: "1956|2064", Name: "EGFR|ERBB2", SemType: "gngm"},
			Object:  predication.Argument{CUI: "C0006826", Name: "Malignant Neoplasms", SemType: "neop"},
		},
		{
			PredicationID: "12", PMID: "27182", Predicate: "TREATS",
			Subject: predication.Argument{CUI: "C0004057", Name: "Aspirin", SemType: "phsu"},
			Object:  predication.Argument{CUI: "C0018681", Name: "Headache", SemType: "sosy"},
		},
	}
	var docs []predication.Document
	for _, r := range rows {
		out, err := predication.Transform(r, types)
		if err != nil {
			t.Fatal(err)
		}
		docs = append(docs, out...)
	}
	return docs
}

func TestJSONL_WritesOneDocumentPerLine(t *testing.T) {
	var buf bytes.Buffer
	s := NewJSONLWriter(&buf)
	docs := sampleDocuments(t)

	if err := s.Write(context.Background(), docs[:1]); err != nil {
		t.Fatal(err)
	}
	if err := s.Write(context.Background(), docs[1:]); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(context.Background()); err != nil {
		t.Fatal(err)
	}

	var ids []string
	sc := bufio.NewScanner(&buf)
	for sc.Scan() {
		var d predication.Document
		if err := json.Unmarshal(sc.Bytes(), &d); err != nil {
			t.Fatalf("line %q is not a document: %v", sc.Text(), err)
		}
		ids = append(ids, d.ID)
	}
	want := []string{"11_1", "11_2", "12"}
	if strings.Join(ids, ",") != strings.Join(want, ",") {
		t.Errorf("expected ids %v, got %v", want, ids)
	}
}

func TestJSONL_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.jsonl")
	s, err := NewJSONL(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Write(context.Background(), sampleDocuments(t)); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(context.Background()); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if n := strings.Count(string(data), "\n"); n != 3 {
		t.Errorf("expected 3 lines, got %d", n)
	}
}

func TestJSONL_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s := NewJSONLWriter(&bytes.Buffer{})
	if err := s.Write(ctx, sampleDocuments(t)); err == nil {
		t.Error("expected error for cancelled context")
	}
}

func TestNew_UnknownKind(t *testing.T) {
	cfg := config.Default()
	cfg.Sink.Kind = "parquet"
	if _, err := New(context.Background(), cfg, nil); err == nil {
		t.Error("expected error for unknown sink kind")
	}
}

func TestNew_Neo4jRequiresURI(t *testing.T) {
	cfg := config.Default()
	cfg.Sink.Kind = "neo4j"
	if _, err := New(context.Background(), cfg, nil); err == nil || !strings.Contains(err.Error(), "graph.uri") {
		t.Errorf("expected graph.uri error, got %v", err)
	}
}

func TestMergeQuery(t *testing.T) {
	tests := []struct {
		subject, object predication.Namespace
		want            []string
	}{
		{predication.Concept, predication.Concept, []string{"(s:Concept {umls: row.subject.id})", "(o:Concept {umls: row.object.id})"}},
		{predication.Gene, predication.Concept, []string{"(s:Gene {ncbigene: row.subject.id})", "(o:Concept {umls: row.object.id})"}},
	}
	for _, tt := range tests {
		t.Run(tt.subject.String()+"_"+tt.object.String(), func(t *testing.T) {
			q := mergeQuery(tt.subject, tt.object)
			for _, w := range tt.want {
				if !strings.Contains(q, w) {
					t.Errorf("query missing %q:\n%s", w, q)
				}
			}
			if !strings.Contains(q, "[r:PREDICATION {id: row.id}]") {
				t.Error("relationship should be keyed by document id")
			}
		})
	}
}

func TestGroupByLabels(t *testing.T) {
	docs := sampleDocuments(t)
	groups := groupByLabels(docs)
	if len(groups) != 2 {
		t.Fatalf("expected 2 label groups, got %d", len(groups))
	}
	if groups[0].subject != predication.Gene || len(groups[0].rows) != 2 {
		t.Errorf("first group should hold the two gene documents, got %s with %d rows", groups[0].subject, len(groups[0].rows))
	}
	if groups[1].subject != predication.Concept || len(groups[1].rows) != 1 {
		t.Errorf("second group should hold the concept document")
	}

	first := groups[0].rows[0]
	if first["id"] != "11_1" || first["pmid"] != int64(31415) {
		t.Errorf("unexpected params %v", first)
	}
	subj := first["subject"].(map[string]any)
	if subj["id"] != "1956" || subj["semantic_type_name"] != "Gene or Genome" {
		t.Errorf("unexpected subject params %v", subj)
	}

	obj := groups[1].rows[0]["object"].(map[string]any)
	if obj["semantic_type_name"] != nil {
		t.Errorf("unresolved label should be nil, got %v", obj["semantic_type_name"])
	}
}

func TestRedis_Key(t *testing.T) {
	s := &Redis{prefix: "semmed:"}
	if got := s.Key("11_2"); got != "semmed:11_2" {
		t.Errorf("unexpected key %s", got)
	}
}
