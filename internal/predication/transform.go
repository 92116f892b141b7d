package predication

import (
	"encoding/json"
	"fmt"
	"iter"
	"slices"
	"strconv"

	"github.com/efebarandurmaz/semmed/internal/semtype"
)

// Documents returns the lazy sequence of documents for row. Rows whose
// object identifier fails IsValidObjectCUI yield an empty sequence and no
// error. A cardinality mismatch on either side is returned as an error
// wrapping ErrCardinalityMismatch before any document is produced.
//
// Subjects form the outer loop and objects the inner loop. When either side
// has more than one entity, documents get ids "<row>_1" .. "<row>_n" in that
// order; otherwise the row id is used verbatim.
func Documents(row Row, types semtype.Map) (iter.Seq[Document], error) {
	if !IsValidObjectCUI(row.Object.CUI) {
		return func(func(Document) bool) {}, nil
	}

	subjects, subjectNS, err := entities(row.Subject)
	if err != nil {
		return nil, fmt.Errorf("predication %s subject: %w", row.PredicationID, err)
	}
	objects, objectNS, err := entities(row.Object)
	if err != nil {
		return nil, fmt.Errorf("predication %s object: %w", row.PredicationID, err)
	}

	subjectTmpl := roleTemplate(subjectNS, row.Subject, types)
	objectTmpl := roleTemplate(objectNS, row.Object, types)
	return expand(row, subjects, objects, subjectTmpl, objectTmpl), nil
}

func expand(row Row, subjects, objects []entity, subjectTmpl, objectTmpl Role) iter.Seq[Document] {
	single := len(subjects) == 1 && len(objects) == 1
	return func(yield func(Document) bool) {
		seq := 0
		for _, s := range subjects {
			for _, o := range objects {
				seq++
				id := row.PredicationID
				if !single {
					id = row.PredicationID + "_" + strconv.Itoa(seq)
				}

				subject := subjectTmpl
				subject.ID, subject.Name = s.id, s.name
				object := objectTmpl
				object.ID, object.Name = o.id, o.name

				doc := Document{
					ID:            id,
					Predicate:     row.Predicate,
					PredicationID: row.PredicationID,
					PMID:          json.Number(row.PMID),
					Subject:       subject,
					Object:        object,
				}
				if !yield(doc) {
					return
				}
			}
		}
	}
}

// Transform collects Documents into a slice.
func Transform(row Row, types semtype.Map) ([]Document, error) {
	seq, err := Documents(row, types)
	if err != nil {
		return nil, err
	}
	return slices.Collect(seq), nil
}

// roleTemplate fills the per-row fields of a Role; ID and Name vary per
// entity and are set by the caller.
func roleTemplate(ns Namespace, arg Argument, types semtype.Map) Role {
	role := Role{Namespace: ns, SemType: arg.SemType}
	if label, ok := types.Lookup(arg.SemType); ok && label != "" {
		role.SemTypeName = &label
	}
	if arg.Novelty != nil {
		n := *arg.Novelty
		role.Novelty = &n
	}
	return role
}
