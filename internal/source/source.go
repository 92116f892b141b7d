// Package source reads the SemMedDB PREDICATION table dump.
//
// The dump is a latin1-encoded CSV without a header. MySQL NULLs are
// written as \N. Only the columns the transformer needs are read:
//
//	0  PREDICATION_ID     7  SUBJECT_NOVELTY
//	2  PMID               8  OBJECT_CUI
//	3  PREDICATE          9  OBJECT_NAME
//	4  SUBJECT_CUI        10 OBJECT_SEMTYPE
//	5  SUBJECT_NAME       11 OBJECT_NOVELTY
//	6  SUBJECT_SEMTYPE
//
// SENTENCE_ID (1) and FACT_VALUE, MOD_SCALE, MOD_VALUE (12-14) are ignored.
package source

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"iter"
	"os"
	"strconv"

	"golang.org/x/text/encoding/charmap"

	"github.com/efebarandurmaz/semmed/internal/predication"
)

// NullValue is how the dump encodes a missing value.
const NullValue = `\N`

const (
	colPredicationID = 0
	colPMID          = 2
	colPredicate     = 3
	colSubjectCUI    = 4
	colSubjectName   = 5
	colSubjectType   = 6
	colSubjectNovel  = 7
	colObjectCUI     = 8
	colObjectName    = 9
	colObjectType    = 10
	colObjectNovel   = 11

	minColumns = colObjectNovel + 1
)

// ErrInvalidRow marks a record that could not be turned into a valid row.
// The enclosing error names the line and the reason.
var ErrInvalidRow = errors.New("invalid predication row")

// Reader yields predication rows from a CSV stream.
type Reader struct {
	csv *csv.Reader
}

// NewReader wraps r, decoding it from latin1.
func NewReader(r io.Reader) *Reader {
	cr := csv.NewReader(charmap.ISO8859_1.NewDecoder().Reader(r))
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	cr.ReuseRecord = true
	return &Reader{csv: cr}
}

// Rows returns the rows in file order. Invalid records yield an error
// wrapping ErrInvalidRow and iteration continues; any other error is
// fatal and ends the sequence.
func (r *Reader) Rows() iter.Seq2[predication.Row, error] {
	return func(yield func(predication.Row, error) bool) {
		for {
			record, err := r.csv.Read()
			if err == io.EOF {
				return
			}
			if err != nil {
				yield(predication.Row{}, fmt.Errorf("reading predications: %w", err))
				return
			}

			line, _ := r.csv.FieldPos(0)
			row, err := ParseRecord(record)
			if err != nil {
				err = fmt.Errorf("line %d: %w: %w", line, ErrInvalidRow, err)
			}
			if !yield(row, err) {
				return
			}
		}
	}
}

// ParseRecord converts one CSV record into a validated row.
func ParseRecord(record []string) (predication.Row, error) {
	if len(record) < minColumns {
		return predication.Row{}, fmt.Errorf("expected at least %d columns, got %d", minColumns, len(record))
	}

	subjectNovelty, err := parseNovelty(record[colSubjectNovel])
	if err != nil {
		return predication.Row{}, fmt.Errorf("SUBJECT_NOVELTY: %w", err)
	}
	objectNovelty, err := parseNovelty(record[colObjectNovel])
	if err != nil {
		return predication.Row{}, fmt.Errorf("OBJECT_NOVELTY: %w", err)
	}

	row := predication.Row{
		PredicationID: value(record[colPredicationID]),
		PMID:          value(record[colPMID]),
		Predicate:     value(record[colPredicate]),
		Subject: predication.Argument{
			CUI:     value(record[colSubjectCUI]),
			Name:    value(record[colSubjectName]),
			SemType: value(record[colSubjectType]),
			Novelty: subjectNovelty,
		},
		Object: predication.Argument{
			CUI:     value(record[colObjectCUI]),
			Name:    value(record[colObjectName]),
			SemType: value(record[colObjectType]),
			Novelty: objectNovelty,
		},
	}
	if err := row.Validate(); err != nil {
		return predication.Row{}, err
	}
	return row, nil
}

func value(s string) string {
	if s == NullValue {
		return ""
	}
	return s
}

func parseNovelty(s string) (*int8, error) {
	if s == NullValue || s == "" {
		return nil, nil
	}
	n, err := strconv.ParseInt(s, 10, 8)
	if err != nil {
		return nil, err
	}
	v := int8(n)
	return &v, nil
}

// File is a Reader over an open dump file.
type File struct {
	*Reader
	f *os.File
}

// Open opens a dump file for reading.
func Open(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open predications: %w", err)
	}
	return &File{Reader: NewReader(f), f: f}, nil
}

// Close closes the underlying file.
func (f *File) Close() error {
	return f.f.Close()
}
