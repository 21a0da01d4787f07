package textstore

import (
	"fmt"
	"slices"
	"strings"
)

// AttributeID names a document attribute the service can ask for.
type AttributeID uint8

const (
	AttrDocumentURL AttributeID = iota
	AttrInputScope
	AttrVerticalWriting
	AttrTextOrientation
)

var supportedAttributes = []AttributeID{
	AttrDocumentURL,
	AttrInputScope,
	AttrVerticalWriting,
	AttrTextOrientation,
}

// String returns the attribute name.
func (id AttributeID) String() string {
	switch id {
	case AttrDocumentURL:
		return "document-url"
	case AttrInputScope:
		return "input-scope"
	case AttrVerticalWriting:
		return "vertical-writing"
	case AttrTextOrientation:
		return "text-orientation"
	}
	return fmt.Sprintf("attribute(%d)", uint8(id))
}

// AttributeValue holds one attribute. Value is a string for the document
// URL, []InputScope for input scopes, a bool for vertical writing and the
// orientation in tenths of a degree as an int.
type AttributeValue struct {
	ID    AttributeID
	Value any
}

// InputScope is a hint about what kind of text the field expects.
type InputScope uint8

const (
	ScopeDefault InputScope = iota
	ScopeURL
	ScopeEmail
	ScopePassword
	ScopeNumber
	ScopeDigits
	ScopeTelephone
	ScopeDate
	ScopeTime
	ScopeSearch
	ScopePrivate
)

var scopeNames = [...]string{
	ScopeDefault:   "default",
	ScopeURL:       "url",
	ScopeEmail:     "email",
	ScopePassword:  "password",
	ScopeNumber:    "number",
	ScopeDigits:    "digits",
	ScopeTelephone: "telephone",
	ScopeDate:      "date",
	ScopeTime:      "time",
	ScopeSearch:    "search",
	ScopePrivate:   "private",
}

// String returns the scope name.
func (sc InputScope) String() string {
	if int(sc) < len(scopeNames) {
		return scopeNames[sc]
	}
	return "unknown"
}

// InputAttributes describes the focused field.
type InputAttributes struct {
	URL         string
	InputScopes []InputScope
	// Private hides the URL from the service and marks the input private.
	Private bool
}

// InputScopesFor maps an HTML-style input type and inputmode to scopes.
// inputMode wins where it is more specific than the type.
func InputScopesFor(inputType, inputMode string) []InputScope {
	var scopes []InputScope
	add := func(sc ...InputScope) {
		for _, s := range sc {
			if !slices.Contains(scopes, s) {
				scopes = append(scopes, s)
			}
		}
	}

	switch strings.ToLower(inputMode) {
	case "numeric":
		add(ScopeDigits)
	case "decimal":
		add(ScopeNumber)
	case "tel":
		add(ScopeTelephone)
	case "email":
		add(ScopeEmail)
	case "url":
		add(ScopeURL)
	case "search":
		add(ScopeSearch)
	}

	switch strings.ToLower(inputType) {
	case "url":
		add(ScopeURL)
	case "search":
		add(ScopeSearch)
	case "email":
		add(ScopeEmail)
	case "password":
		add(ScopePassword)
	case "number":
		add(ScopeNumber)
	case "tel":
		add(ScopeTelephone)
	case "date", "datetime-local", "month", "week":
		add(ScopeDate)
	case "time":
		add(ScopeTime)
	}
	return scopes
}

// SetInputContext replaces the attributes of the focused field.
func (s *TextStore) SetInputContext(attrs InputAttributes) {
	attrs.InputScopes = slices.Clone(attrs.InputScopes)
	if attrs.Private && !slices.Contains(attrs.InputScopes, ScopePrivate) {
		attrs.InputScopes = append(attrs.InputScopes, ScopePrivate)
	}
	s.attrs = attrs
}

// SupportedAttributes lists the attributes RetrieveAttributeValues serves.
func (s *TextStore) SupportedAttributes() []AttributeID {
	return slices.Clone(supportedAttributes)
}

// RetrieveAttributeValues returns the values of ids in order.
func (s *TextStore) RetrieveAttributeValues(ids []AttributeID) ([]AttributeValue, error) {
	if s.released {
		return nil, ErrUnavailable
	}
	values := make([]AttributeValue, 0, len(ids))
	for _, id := range ids {
		v := AttributeValue{ID: id}
		switch id {
		case AttrDocumentURL:
			url := s.attrs.URL
			if s.attrs.Private {
				url = ""
			}
			v.Value = url
		case AttrInputScope:
			scopes := slices.Clone(s.attrs.InputScopes)
			if len(scopes) == 0 {
				scopes = []InputScope{ScopeDefault}
			}
			v.Value = scopes
		case AttrVerticalWriting:
			v.Value = s.writingMode() != Horizontal
		case AttrTextOrientation:
			orientation := 0
			if s.writingMode() != Horizontal {
				orientation = 2700
			}
			v.Value = orientation
		default:
			return nil, fmt.Errorf("%w: attribute %s", ErrInvalidArgument, id)
		}
		values = append(values, v)
	}
	return values, nil
}

// writingMode reads the cached selection without fetching.
func (s *TextStore) writingMode() WritingMode {
	if s.sel == nil {
		return Horizontal
	}
	return s.sel.sel.WritingMode
}
