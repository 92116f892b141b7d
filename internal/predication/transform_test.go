package predication

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"testing"

	"github.com/efebarandurmaz/semmed/internal/semtype"
)

func novelty(v int8) *int8 { return &v }

func testTypes() semtype.Map {
	return semtype.New([]semtype.Pair{{Code: "phsu", Label: "Pharmacologic Substance"}})
}

func exampleRow() Row {
	return Row{
		PredicationID: "P1",
		PMID:          "1001",
		Predicate:     "TREATS",
		Subject:       Argument{CUI: "C001", Name: "Drug", SemType: "phsu", Novelty: novelty(1)},
		Object:        Argument{CUI: "C002|C003", Name: "Disease|Disorder", SemType: "dsyn", Novelty: novelty(1)},
	}
}

func TestTransform_Example(t *testing.T) {
	docs, err := Transform(exampleRow(), testTypes())
	if err != nil {
		t.Fatalf("Transform failed: %v", err)
	}
	if len(docs) != 1 {
		t.Fatalf("expected 1 document, got %d", len(docs))
	}

	d := docs[0]
	if d.ID != "P1" {
		t.Errorf("expected id P1, got %s", d.ID)
	}
	if d.Object.ID != "C002" || d.Object.Name != "Disease" {
		t.Errorf("object should be truncated to first pair, got %s/%s", d.Object.ID, d.Object.Name)
	}
	if d.Object.Namespace != Concept {
		t.Errorf("expected concept object, got %s", d.Object.Namespace)
	}
	if !d.Subject.HasSemTypeName() || *d.Subject.SemTypeName != "Pharmacologic Substance" {
		t.Errorf("expected resolved subject semantic type, got %v", d.Subject.SemTypeName)
	}
	if d.Object.HasSemTypeName() {
		t.Errorf("object semantic type should be absent, got %q", *d.Object.SemTypeName)
	}
}

func TestTransform_InvalidObjectCUI(t *testing.T) {
	tests := []string{"1|medd", "235|Patients", " 6|gngm", "", "   "}
	for _, cui := range tests {
		t.Run(cui, func(t *testing.T) {
			row := exampleRow()
			row.Object.CUI = cui
			row.Object.Name = "x|y"

			docs, err := Transform(row, testTypes())
			if err != nil {
				t.Fatalf("invalid object CUI should not error, got %v", err)
			}
			if len(docs) != 0 {
				t.Errorf("expected no documents, got %d", len(docs))
			}
		})
	}
}

func TestTransform_ValidObjectCUIWithWhitespace(t *testing.T) {
	row := exampleRow()
	row.Object = Argument{CUI: "  C0011849", Name: "Diabetes"}

	docs, err := Transform(row, testTypes())
	if err != nil {
		t.Fatal(err)
	}
	if len(docs) != 1 {
		t.Fatalf("expected 1 document, got %d", len(docs))
	}
}

func TestTransform_SingleKeepsRowID(t *testing.T) {
	row := exampleRow()
	row.Object = Argument{CUI: "C002", Name: "Disease"}

	docs, err := Transform(row, testTypes())
	if err != nil {
		t.Fatal(err)
	}
	if len(docs) != 1 || docs[0].ID != row.PredicationID {
		t.Fatalf("expected one document with id %s, got %+v", row.PredicationID, docs)
	}
}

func TestTransform_GeneExpansion(t *testing.T) {
	row := Row{
		PredicationID: "P9",
		PMID:          "42",
		Predicate:     "INTERACTS_WITH",
		Subject:       Argument{CUI: "1956|2064", Name: "EGFR|ERBB2", SemType: "gngm"},
		Object:        Argument{CUI: "C0001|C0002", Name: "A|B", SemType: "aapp"},
	}

	docs, err := Transform(row, semtype.Map{})
	if err != nil {
		t.Fatal(err)
	}
	// Gene subject keeps both values; concept object keeps only its first.
	if len(docs) != 2 {
		t.Fatalf("expected 2 documents, got %d", len(docs))
	}

	want := []struct{ id, subj, name string }{
		{"P9_1", "1956", "EGFR"},
		{"P9_2", "2064", "ERBB2"},
	}
	for i, w := range want {
		d := docs[i]
		if d.ID != w.id || d.Subject.ID != w.subj || d.Subject.Name != w.name {
			t.Errorf("doc %d: got id=%s subj=%s name=%s, want %+v", i, d.ID, d.Subject.ID, d.Subject.Name, w)
		}
		if d.Subject.Namespace != Gene {
			t.Errorf("doc %d: expected gene subject, got %s", i, d.Subject.Namespace)
		}
		if d.Object.ID != "C0001" {
			t.Errorf("doc %d: expected truncated object C0001, got %s", i, d.Object.ID)
		}
	}
}

func TestExpand_CrossProductOrder(t *testing.T) {
	row := Row{PredicationID: "R", PMID: "7", Predicate: "COEXISTS_WITH"}
	subjects := []entity{{"s1", "S1"}, {"s2", "S2"}}
	objects := []entity{{"o1", "O1"}, {"o2", "O2"}, {"o3", "O3"}}

	var got []string
	for d := range expand(row, subjects, objects, Role{Namespace: Gene}, Role{Namespace: Gene}) {
		got = append(got, d.ID+":"+d.Subject.ID+"-"+d.Object.ID)
	}

	want := "R_1:s1-o1,R_2:s1-o2,R_3:s1-o3,R_4:s2-o1,R_5:s2-o2,R_6:s2-o3"
	if strings.Join(got, ",") != want {
		t.Errorf("unexpected order:\n got %s\nwant %s", strings.Join(got, ","), want)
	}
}

func TestTransform_SuffixesAreSequential(t *testing.T) {
	row := Row{
		PredicationID: "123",
		PMID:          "9",
		Predicate:     "INHIBITS",
		Subject:       Argument{CUI: "100|200|300", Name: "x|y|z"},
		Object:        Argument{CUI: "C9", Name: "target"},
	}

	docs, err := Transform(row, semtype.Map{})
	if err != nil {
		t.Fatal(err)
	}
	if len(docs) != 3 {
		t.Fatalf("expected 3 documents, got %d", len(docs))
	}
	for i, d := range docs {
		want := fmt.Sprintf("123_%d", i+1)
		if d.ID != want {
			t.Errorf("doc %d: expected id %s, got %s", i, want, d.ID)
		}
		if d.PredicationID != "123" {
			t.Errorf("doc %d: predication_id should stay 123, got %s", i, d.PredicationID)
		}
	}
	if docs[2].Subject.ID != "300" || docs[2].Subject.Name != "z" {
		t.Errorf("expected last subject 300/z, got %s/%s", docs[2].Subject.ID, docs[2].Subject.Name)
	}
}

func TestTransform_ConceptTruncation(t *testing.T) {
	tests := []struct {
		name     string
		cui      string
		names    string
		wantID   string
		wantName string
	}{
		{"two concepts", "C1|C2", "one|two", "C1", "one"},
		{"concept then genes", "C1|3|4", "one|three|four", "C1", "one"},
		{"gene then concept", "5|C6", "five|six", "5", "five"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			row := exampleRow()
			row.Subject = Argument{CUI: tt.cui, Name: tt.names}

			docs, err := Transform(row, testTypes())
			if err != nil {
				t.Fatal(err)
			}
			if len(docs) != 1 {
				t.Fatalf("concept role should contribute one pair, got %d documents", len(docs))
			}
			if docs[0].Subject.ID != tt.wantID || docs[0].Subject.Name != tt.wantName {
				t.Errorf("got %s/%s, want %s/%s", docs[0].Subject.ID, docs[0].Subject.Name, tt.wantID, tt.wantName)
			}
			if docs[0].Subject.Namespace != Concept {
				t.Errorf("expected concept namespace, got %s", docs[0].Subject.Namespace)
			}
		})
	}
}

func TestTransform_CardinalityMismatch(t *testing.T) {
	tests := []struct {
		name string
		mod  func(*Row)
		role string
	}{
		{"subject", func(r *Row) { r.Subject = Argument{CUI: "1|2", Name: "only-one"} }, "subject"},
		{"object", func(r *Row) { r.Object = Argument{CUI: "C1|C2", Name: "only-one"} }, "object"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			row := exampleRow()
			tt.mod(&row)

			docs, err := Transform(row, testTypes())
			if !errors.Is(err, ErrCardinalityMismatch) {
				t.Fatalf("expected ErrCardinalityMismatch, got %v", err)
			}
			if docs != nil {
				t.Errorf("expected no documents on error, got %d", len(docs))
			}
			if !strings.Contains(err.Error(), tt.role) || !strings.Contains(err.Error(), "P1") {
				t.Errorf("error should name row and role, got %v", err)
			}
		})
	}
}

func TestTransform_InvalidObjectBeatsCardinality(t *testing.T) {
	row := exampleRow()
	row.Object = Argument{CUI: "1|medd", Name: "one"}

	docs, err := Transform(row, testTypes())
	if err != nil || len(docs) != 0 {
		t.Fatalf("gate should drop row before cardinality check, got %d docs, err=%v", len(docs), err)
	}
}

func TestTransform_Idempotent(t *testing.T) {
	row := Row{
		PredicationID: "X",
		PMID:          "5",
		Predicate:     "ASSOCIATED_WITH",
		Subject:       Argument{CUI: "7|8", Name: "g7|g8", SemType: "phsu", Novelty: novelty(0)},
		Object:        Argument{CUI: "C3", Name: "c3", SemType: "dsyn"},
	}
	types := testTypes()

	first, err := Transform(row, types)
	if err != nil {
		t.Fatal(err)
	}
	second, err := Transform(row, types)
	if err != nil {
		t.Fatal(err)
	}

	a, _ := json.Marshal(first)
	b, _ := json.Marshal(second)
	if string(a) != string(b) {
		t.Errorf("outputs differ:\n%s\n%s", a, b)
	}
	if !reflect.DeepEqual(first, second) {
		t.Error("documents should be deeply equal")
	}
}

func TestTransform_NoveltyCopied(t *testing.T) {
	row := exampleRow()
	docs, err := Transform(row, testTypes())
	if err != nil {
		t.Fatal(err)
	}
	*row.Subject.Novelty = 9
	if *docs[0].Subject.Novelty != 1 {
		t.Error("document novelty should not alias the row")
	}

	row = exampleRow()
	row.Object.Novelty = nil
	docs, _ = Transform(row, testTypes())
	if docs[0].Object.Novelty != nil {
		t.Error("absent novelty should stay nil")
	}
}

func TestTransform_EmptyLabelOmitted(t *testing.T) {
	types := semtype.New([]semtype.Pair{{Code: "phsu", Label: ""}, {Code: "dsyn", Label: "Disease or Syndrome"}})
	docs, err := Transform(exampleRow(), types)
	if err != nil {
		t.Fatal(err)
	}
	if docs[0].Subject.HasSemTypeName() {
		t.Errorf("empty label should be omitted, got %q", *docs[0].Subject.SemTypeName)
	}
	if !docs[0].Object.HasSemTypeName() {
		t.Error("non-empty label should be attached")
	}

	data, err := json.Marshal(docs[0])
	if err != nil {
		t.Fatal(err)
	}
	if strings.Count(string(data), `"semantic_type_name"`) != 1 {
		t.Errorf("only the object should carry semantic_type_name: %s", data)
	}
}

func TestDocuments_StopsEarly(t *testing.T) {
	row := exampleRow()
	row.Subject = Argument{CUI: "1|2|3|4", Name: "a|b|c|d"}

	seq, err := Documents(row, testTypes())
	if err != nil {
		t.Fatal(err)
	}
	n := 0
	for range seq {
		n++
		if n == 2 {
			break
		}
	}
	if n != 2 {
		t.Errorf("expected to stop after 2, got %d", n)
	}
}

func TestDocument_JSON(t *testing.T) {
	docs, err := Transform(exampleRow(), testTypes())
	if err != nil {
		t.Fatal(err)
	}
	data, err := json.Marshal(docs[0])
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}

	want := `{"_id":"P1","predicate":"TREATS","predication_id":"P1","pmid":1001,` +
		`"subject":{"umls":"C001","name":"Drug","semantic_type_abbreviation":"phsu","semantic_type_name":"Pharmacologic Substance","novelty":1},` +
		`"object":{"umls":"C002","name":"Disease","semantic_type_abbreviation":"dsyn","novelty":1}}`
	if string(data) != want {
		t.Errorf("unexpected JSON:\n got %s\nwant %s", data, want)
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatal(err)
	}
	generic := map[string]map[string]any{}
	for _, k := range []string{"subject", "object"} {
		var m map[string]any
		if err := json.Unmarshal(raw[k], &m); err != nil {
			t.Fatal(err)
		}
		generic[k] = m
	}
	if _, ok := generic["object"]["semantic_type_name"]; ok {
		t.Error("object semantic_type_name key should be absent")
	}
	if _, ok := generic["subject"]["semantic_type_name"]; !ok {
		t.Error("subject semantic_type_name key should be present")
	}
}

func TestRole_JSONRoundTrip(t *testing.T) {
	label := "Gene or Genome"
	roles := []Role{
		{Namespace: Gene, ID: "1956", Name: "EGFR", SemType: "gngm", SemTypeName: &label, Novelty: novelty(1)},
		{Namespace: Concept, ID: "C0006826", Name: "Malignant Neoplasms", SemType: "neop"},
	}
	for _, r := range roles {
		data, err := json.Marshal(r)
		if err != nil {
			t.Fatal(err)
		}
		if !strings.Contains(string(data), `"`+r.Namespace.Field()+`"`) {
			t.Errorf("expected %s key in %s", r.Namespace.Field(), data)
		}
		var back Role
		if err := json.Unmarshal(data, &back); err != nil {
			t.Fatalf("unmarshal failed: %v", err)
		}
		if !reflect.DeepEqual(r, back) {
			t.Errorf("round trip mismatch: %+v vs %+v", r, back)
		}
	}

	var r Role
	if err := json.Unmarshal([]byte(`{"name":"x"}`), &r); err == nil {
		t.Error("expected error when no identifier key is present")
	}
}
