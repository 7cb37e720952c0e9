package vcd

import (
	"context"
	"net/http"
	"net/url"

	"github.com/pkg/errors"

	"github.com/kubev2v/vdc-migrator/internal/migration"
)

var valueTypes = map[migration.ValueType]string{
	migration.ValueString:   "MetadataStringValue",
	migration.ValueNumber:   "MetadataNumberValue",
	migration.ValueDateTime: "MetadataDateTimeValue",
	migration.ValueBoolean:  "MetadataBooleanValue",
}

// domainOf maps a visibility to the metadata domain. General entries live in the
// tenant domain, which has no explicit domain element.
func domainOf(v migration.Visibility) *metadataDomain {
	switch v {
	case migration.VisibilityPrivate:
		return &metadataDomain{Visibility: "PRIVATE", Value: "SYSTEM"}
	case migration.VisibilityReadOnly:
		return &metadataDomain{Visibility: "READONLY", Value: "SYSTEM"}
	default:
		return nil
	}
}

func visibilityOf(d *metadataDomain) migration.Visibility {
	if d == nil || d.Value != "SYSTEM" {
		return migration.VisibilityGeneral
	}
	if d.Visibility == "PRIVATE" {
		return migration.VisibilityPrivate
	}
	return migration.VisibilityReadOnly
}

func (c *Client) CreateMetadata(ctx context.Context, obj migration.Ref, entry migration.MetadataEntry) error {
	wireType, ok := valueTypes[entry.Value.Type]
	if !ok {
		return errors.Errorf("unsupported metadata type %q", entry.Value.Type)
	}
	body := metadata{MetadataEntry: []metadataEntry{{
		Domain:     domainOf(entry.Visibility),
		Key:        entry.Key,
		TypedValue: typedValue{Type: wireType, Value: entry.Value.Value},
	}}}

	var t task
	if err := c.do(ctx, http.MethodPost, obj.Value+"/metadata", body, &t, legacyContentType); err != nil {
		return errors.Wrapf(err, "creating metadata %s", entry.Key)
	}
	if t.Href == "" {
		return nil
	}
	return c.waitTask(ctx, t)
}

func (c *Client) Metadata(ctx context.Context, obj migration.Ref) ([]migration.MetadataEntry, error) {
	var m metadata
	if err := c.do(ctx, http.MethodGet, obj.Value+"/metadata", nil, &m, legacyContentType); err != nil {
		return nil, errors.Wrapf(err, "reading metadata of %s", obj.Value)
	}

	entries := make([]migration.MetadataEntry, 0, len(m.MetadataEntry))
	for _, e := range m.MetadataEntry {
		entry := migration.MetadataEntry{
			Key:        e.Key,
			Value:      migration.TypedValue{Type: migration.ValueString, Value: e.TypedValue.Value},
			Visibility: visibilityOf(e.Domain),
		}
		for t, wire := range valueTypes {
			if wire == e.TypedValue.Type {
				entry.Value.Type = t
			}
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func (c *Client) DeleteMetadata(ctx context.Context, obj migration.Ref, key string) error {
	var t task
	if err := c.do(ctx, http.MethodDelete, obj.Value+"/metadata/"+url.PathEscape(key), nil, &t, legacyContentType); err != nil {
		return errors.Wrapf(err, "deleting metadata %s", key)
	}
	if t.Href == "" {
		return nil
	}
	return c.waitTask(ctx, t)
}

var _ migration.TenantSession = &Client{}
