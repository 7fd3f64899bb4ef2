package pofile

import (
	"bytes"
	"errors"
	"fmt"
)

// ReferenceCode identifies why a reference catalog was rejected.
type ReferenceCode int

const (
	RefIdentical ReferenceCode = iota + 1
	RefHashedValues
	RefEmpty
	RefUntranslated
	RefNoOverlap
)

var referenceMessages = map[ReferenceCode]string{
	RefIdentical:    "the reference file is identical to the uploaded file; upload the catalog that contains the source-language texts",
	RefHashedValues: "the reference file's translations are themselves hash identifiers; it does not contain readable texts",
	RefEmpty:        "the reference file contains no entries",
	RefUntranslated: "every msgstr in the reference file is empty",
	RefNoOverlap:    "none of the reference file's msgids match the uploaded file",
}

// ReferenceError is a rejected reference catalog.
type ReferenceError struct {
	Code ReferenceCode
}

func (e *ReferenceError) Error() string {
	return referenceMessages[e.Code]
}

// Is matches reference errors by code.
func (e *ReferenceError) Is(target error) bool {
	var t *ReferenceError
	return errors.As(target, &t) && t.Code == e.Code
}

// Sentinels for errors.Is.
var (
	ErrReferenceIdentical    = &ReferenceError{Code: RefIdentical}
	ErrReferenceHashed       = &ReferenceError{Code: RefHashedValues}
	ErrReferenceEmpty        = &ReferenceError{Code: RefEmpty}
	ErrReferenceUntranslated = &ReferenceError{Code: RefUntranslated}
	ErrReferenceNoOverlap    = &ReferenceError{Code: RefNoOverlap}
)

// ReferenceMap validates a reference catalog against the primary upload and
// returns the readable text for each primary entry key it covers.
//
// Checks run in a fixed order and the first failure is returned. A partial
// overlap is not an error.
func ReferenceMap(primaryData []byte, primary *File, refData []byte) (map[string]string, error) {
	if bytes.Equal(primaryData, refData) {
		return nil, ErrReferenceIdentical
	}
	ref, err := ParseBytes(refData)
	if err != nil {
		return nil, fmt.Errorf("parsing reference file: %w", err)
	}

	entries := ref.ActiveEntries()
	var values []string
	for _, e := range entries {
		values = append(values, e.MsgStr)
	}
	if hashShare(values) >= HashFileRatio {
		return nil, ErrReferenceHashed
	}
	if len(entries) == 0 {
		return nil, ErrReferenceEmpty
	}

	byKey := make(map[string]string, len(entries))
	byID := make(map[string]string, len(entries))
	for _, e := range entries {
		if e.MsgStr == "" {
			continue
		}
		byKey[e.Key()] = e.MsgStr
		byID[e.MsgID] = e.MsgStr
	}
	if len(byKey) == 0 {
		return nil, ErrReferenceUntranslated
	}

	out := make(map[string]string)
	for _, e := range primary.ActiveEntries() {
		if text, ok := byKey[e.Key()]; ok {
			out[e.Key()] = text
		} else if text, ok := byID[e.MsgID]; ok {
			out[e.Key()] = text
		}
	}
	if len(out) == 0 {
		return nil, ErrReferenceNoOverlap
	}
	return out, nil
}
