package form

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// FieldName identifies one booking form field
type FieldName string

const (
	FirstName FieldName = "first_name"
	LastName  FieldName = "last_name"
	Email     FieldName = "email"
	Phone     FieldName = "phone"
	StudentID FieldName = "student_id"
)

// FieldSpec is a field to fill and the label patterns that identify it, in
// the order they are tried.
type FieldSpec struct {
	Name     FieldName
	Patterns []*regexp.Regexp
	Value    string
}

// Identity is the person the appointment is booked for
type Identity struct {
	FirstName string
	LastName  string
	Email     string
	Phone     string
	StudentID string
}

// Thai labels come first; the page is served in Thai unless the browser
// locale says otherwise.
var defaultPatterns = map[FieldName][]*regexp.Regexp{
	FirstName: {regexp.MustCompile(`ชื่อ`), regexp.MustCompile(`(?i)First name`)},
	LastName:  {regexp.MustCompile(`นามสกุล`), regexp.MustCompile(`(?i)Last name`)},
	Email:     {regexp.MustCompile(`อีเมล`), regexp.MustCompile(`(?i)Email address`)},
	Phone:     {regexp.MustCompile(`หมายเลขโทรศัพท์`), regexp.MustCompile(`(?i)Phone number`)},
	StudentID: {regexp.MustCompile(`รหัสนิสิต`), regexp.MustCompile(`(?i)Student ID`)},
}

// DefaultFields builds the booking form's field list for id
func DefaultFields(id Identity) []FieldSpec {
	return []FieldSpec{
		{Name: FirstName, Patterns: defaultPatterns[FirstName], Value: id.FirstName},
		{Name: LastName, Patterns: defaultPatterns[LastName], Value: id.LastName},
		{Name: Email, Patterns: defaultPatterns[Email], Value: id.Email},
		{Name: Phone, Patterns: defaultPatterns[Phone], Value: id.Phone},
		{Name: StudentID, Patterns: defaultPatterns[StudentID], Value: id.StudentID},
	}
}

// ErrFieldNotFound is the sentinel behind every FieldNotFoundError
var ErrFieldNotFound = errors.New("form field not found")

// FieldNotFoundError reports a field that could not be resolved or filled
type FieldNotFoundError struct {
	Field    FieldName
	Patterns []string
	// Err is the underlying cause, nil when no control matched in time.
	Err error
}

func (e *FieldNotFoundError) Error() string {
	msg := fmt.Sprintf("field %s not found (labels %s)", e.Field, strings.Join(e.Patterns, ", "))
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *FieldNotFoundError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrFieldNotFound}
	}
	return []error{ErrFieldNotFound, e.Err}
}

func patternStrings(ps []*regexp.Regexp) []string {
	out := make([]string, len(ps))
	for i, p := range ps {
		out[i] = p.String()
	}
	return out
}
