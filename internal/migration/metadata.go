package migration

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

type ValueType string

const (
	ValueString   ValueType = "String"
	ValueNumber   ValueType = "Number"
	ValueDateTime ValueType = "DateTime"
	ValueBoolean  ValueType = "Boolean"
)

type Visibility string

const (
	VisibilityGeneral  Visibility = "General"
	VisibilityPrivate  Visibility = "Private"
	VisibilityReadOnly Visibility = "ReadOnly"
)

// DateTimeNow is the literal that stands for the current time.
const DateTimeNow = "Now"

// SortableTimeLayout is an ISO-8601 timestamp without zone, which sorts lexically.
const SortableTimeLayout = "2006-01-02T15:04:05"

type TypedValue struct {
	Type  ValueType
	Value string
}

type MetadataEntry struct {
	Key        string
	Value      TypedValue
	Visibility Visibility
}

func ParseValueType(s string) (ValueType, error) {
	for _, t := range []ValueType{ValueString, ValueNumber, ValueDateTime, ValueBoolean} {
		if strings.EqualFold(s, string(t)) {
			return t, nil
		}
	}
	return "", fmt.Errorf("unsupported metadata type %q", s)
}

func ParseVisibility(s string) (Visibility, error) {
	if s == "" {
		return VisibilityGeneral, nil
	}
	for _, v := range []Visibility{VisibilityGeneral, VisibilityPrivate, VisibilityReadOnly} {
		if strings.EqualFold(s, string(v)) {
			return v, nil
		}
	}
	return "", fmt.Errorf("unsupported metadata visibility %q", s)
}

// NewTypedValue checks raw against the type and normalizes it. "Now" is resolved
// against now in UTC.
func NewTypedValue(t ValueType, raw string, now time.Time) (TypedValue, error) {
	switch t {
	case ValueString:
		return TypedValue{Type: t, Value: raw}, nil
	case ValueNumber:
		n, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return TypedValue{}, fmt.Errorf("invalid number %q: %w", raw, err)
		}
		return TypedValue{Type: t, Value: strconv.FormatFloat(n, 'f', -1, 64)}, nil
	case ValueBoolean:
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return TypedValue{}, fmt.Errorf("invalid boolean %q: %w", raw, err)
		}
		return TypedValue{Type: t, Value: strconv.FormatBool(b)}, nil
	case ValueDateTime:
		if strings.EqualFold(raw, DateTimeNow) {
			return TypedValue{Type: t, Value: now.UTC().Format(SortableTimeLayout)}, nil
		}
		for _, layout := range []string{time.RFC3339, SortableTimeLayout} {
			if ts, err := time.Parse(layout, raw); err == nil {
				return TypedValue{Type: t, Value: ts.UTC().Format(SortableTimeLayout)}, nil
			}
		}
		return TypedValue{}, fmt.Errorf("invalid date time %q", raw)
	default:
		return TypedValue{}, fmt.Errorf("unsupported metadata type %q", t)
	}
}

// Tagger attaches one typed entry per call. It does not look for an existing entry
// with the same key, so repeated calls add repeated entries.
type Tagger struct {
	tenant TenantSession
	now    func() time.Time
}

func NewTagger(tenant TenantSession) *Tagger {
	return &Tagger{tenant: tenant, now: time.Now}
}

func (t *Tagger) Tag(ctx context.Context, obj Ref, key string, valueType ValueType, raw string, visibility Visibility) (*MetadataEntry, error) {
	value, err := NewTypedValue(valueType, raw, t.now())
	if err != nil {
		return nil, err
	}
	if visibility == "" {
		visibility = VisibilityGeneral
	}
	entry := MetadataEntry{Key: key, Value: value, Visibility: visibility}
	if err := t.tenant.CreateMetadata(ctx, obj, entry); err != nil {
		return nil, fmt.Errorf("creating metadata %s on %s: %w", key, obj, err)
	}
	zap.S().Named("tagger").Infof("metadata %s=%s (%s, %s) set on %s", key, value.Value, value.Type, visibility, obj)
	return &entry, nil
}
