// Package stream decodes the DynamoDB change streams of a Data API into item
// change events for downstream consumers such as a search indexer.
package stream

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/aws/aws-lambda-go/events"

	"github.com/jacentio/dataapi/backend/dynamo"
	"github.com/jacentio/dataapi/statement"
	"github.com/jacentio/dataapi/store"
)

// Kind classifies a change to a facet record.
type Kind string

const (
	Created    Kind = "Created"
	Updated    Kind = "Updated"
	Deleted    Kind = "Deleted"
	Tombstoned Kind = "Tombstoned"
	Restored   Kind = "Restored"
	Removed    Kind = "Removed"
)

// ChangeEvent is one decoded stream record.
type ChangeEvent struct {
	EventID string          `json:"eventId"`
	Facet   statement.Facet `json:"-"`
	ID      string          `json:"id"`
	Kind    Kind            `json:"kind"`
	Version int64           `json:"version,omitempty"`
	Caller  string          `json:"caller,omitempty"`

	// Item is the new image, absent for Removed.
	Item store.Record `json:"item,omitempty"`
	// Old is the previous image, absent for Created.
	Old store.Record `json:"old,omitempty"`
}

// Sink receives change events.
type Sink interface {
	Publish(ctx context.Context, ev ChangeEvent) error
}

// SinkFunc adapts a function to a Sink.
type SinkFunc func(ctx context.Context, ev ChangeEvent) error

func (f SinkFunc) Publish(ctx context.Context, ev ChangeEvent) error { return f(ctx, ev) }

// Handler decodes DynamoDB stream events and forwards them to a Sink.
type Handler struct {
	config dynamo.Config
	sink   Sink
	logger *slog.Logger
}

// NewHandler creates a stream handler for the tables described by config.
func NewHandler(config dynamo.Config, sink Sink, logger *slog.Logger) *Handler {
	if config.MetadataTable == "" {
		config.MetadataTable = config.Table + "-Metadata"
	}
	if config.KeyAttribute == "" {
		config.KeyAttribute = "id"
	}
	if config.MetadataSuffix == "" {
		config.MetadataSuffix = "-meta"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{config: config, sink: sink, logger: logger}
}

// HandleEvent processes a batch of stream records in order.
// This function is designed to be used as an AWS Lambda handler.
func (h *Handler) HandleEvent(ctx context.Context, event events.DynamoDBEvent) error {
	for i := range event.Records {
		record := &event.Records[i]
		ev, ok, err := h.Decode(record)
		if err != nil {
			h.logger.Error("failed to decode record", "eventID", record.EventID, "error", err)
			return err
		}
		if !ok {
			continue
		}
		if err := h.sink.Publish(ctx, ev); err != nil {
			h.logger.Error("failed to publish change",
				"eventID", record.EventID,
				"id", ev.ID,
				"error", err,
			)
			return err // Will retry, eventually DLQ
		}
		h.logger.Debug("published change", "id", ev.ID, "facet", ev.Facet.String(), "kind", ev.Kind)
	}
	return nil
}

// Decode converts a stream record. ok is false for records that carry no
// item change.
func (h *Handler) Decode(record *events.DynamoDBEventRecord) (ev ChangeEvent, ok bool, err error) {
	ev.EventID = record.EventID
	ev.Facet = h.facet(record)

	keyAttr, found := record.Change.Keys[h.config.KeyAttribute]
	if !found || keyAttr.DataType() != events.DataTypeString {
		return ev, false, fmt.Errorf("stream: record %s has no string %q key", record.EventID, h.config.KeyAttribute)
	}
	ev.ID = h.itemID(ev.Facet, keyAttr.String())

	if ev.Item, err = h.image(ev.Facet, record.Change.NewImage); err != nil {
		return ev, false, err
	}
	if ev.Old, err = h.image(ev.Facet, record.Change.OldImage); err != nil {
		return ev, false, err
	}

	switch record.EventName {
	case string(events.DynamoDBOperationTypeInsert):
		ev.Kind = Created
	case string(events.DynamoDBOperationTypeRemove):
		ev.Kind = Removed
	case string(events.DynamoDBOperationTypeModify):
		ev.Kind = transition(ev.Old, ev.Item)
	default:
		return ev, false, nil
	}

	current := ev.Item
	if current == nil {
		current = ev.Old
	}
	ev.Version, _ = statement.Int64(current[statement.ItemVersion])
	ev.Caller, _ = current[statement.LastUpdatedBy].(string)
	return ev, true, nil
}

// transition classifies a MODIFY by the delete-state change it carries.
func transition(old, cur store.Record) Kind {
	wasDeleted, isDeleted := store.IsDeleted(old), store.IsDeleted(cur)
	switch {
	case !wasDeleted && isDeleted && store.IsTombstoned(cur):
		return Tombstoned
	case !wasDeleted && isDeleted:
		return Deleted
	case wasDeleted && !isDeleted:
		return Restored
	}
	return Updated
}

// facet identifies the table a record came from. Stream ARNs have the form
// arn:aws:dynamodb:<region>:<account>:table/<name>/stream/<label>.
func (h *Handler) facet(record *events.DynamoDBEventRecord) statement.Facet {
	if table := TableFromARN(record.EventSourceArn); table != "" {
		if table == h.config.MetadataTable {
			return statement.Metadata
		}
		return statement.Resource
	}
	if key, ok := record.Change.Keys[h.config.KeyAttribute]; ok && key.DataType() == events.DataTypeString &&
		strings.HasSuffix(key.String(), h.config.MetadataSuffix) {
		return statement.Metadata
	}
	return statement.Resource
}

func (h *Handler) itemID(facet statement.Facet, stored string) string {
	if facet == statement.Metadata {
		return strings.TrimSuffix(stored, h.config.MetadataSuffix)
	}
	return stored
}

// image converts a stream image to a record with engine names.
func (h *Handler) image(facet statement.Facet, img map[string]events.DynamoDBAttributeValue) (store.Record, error) {
	if len(img) == 0 {
		return nil, nil
	}
	raw := make(map[string]any, len(img))
	for k, v := range img {
		val, err := Value(v)
		if err != nil {
			return nil, fmt.Errorf("stream: attribute %q: %w", k, err)
		}
		raw[k] = val
	}
	rec := store.Record(dynamo.Columns.LogicalRecord(raw))
	if id, ok := rec[h.config.KeyAttribute].(string); ok {
		rec[h.config.KeyAttribute] = h.itemID(facet, id)
	}
	return rec, nil
}

// TableFromARN extracts the table name from a table or stream ARN.
func TableFromARN(arn string) string {
	_, rest, found := strings.Cut(arn, ":table/")
	if !found {
		return ""
	}
	table, _, _ := strings.Cut(rest, "/")
	return table
}
