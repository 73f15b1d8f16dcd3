package relational_test

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/jacentio/dataapi/backend/relational"
	"github.com/jacentio/dataapi/statement"
	"github.com/jacentio/dataapi/store"
)

var (
	resourceSchema = map[string]any{
		"properties": map[string]any{
			"id":    map[string]any{"type": "string"},
			"attr1": map[string]any{"type": "string"},
			"attr2": map[string]any{"type": "string"},
			"attr3": map[string]any{"type": "string"},
			"ok":    map[string]any{"type": "boolean"},
			"score": map[string]any{"type": "number"},
			"addr":  map[string]any{"type": "object"},
			"tags":  map[string]any{"type": "array"},
		},
	}
	metadataSchema = map[string]any{
		"properties": map[string]any{
			"owner": map[string]any{"type": "string"},
		},
	}
)

func newSQLiteBackend(t *testing.T) *relational.Backend {
	t.Helper()
	cfg := relational.DefaultConfig("Customers")
	cfg.Dialect = relational.SQLite

	ctx := context.Background()
	b, err := relational.Open(ctx, ":memory:", cfg, nil)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { b.Close() })

	if err := b.EnsureTables(ctx, resourceSchema, metadataSchema, []string{"attr2"}, []string{"owner"}); err != nil {
		t.Fatalf("EnsureTables failed: %v", err)
	}
	return b
}

func newSQLiteHandler(t *testing.T) (*store.Handler, *relational.Backend) {
	t.Helper()
	b := newSQLiteBackend(t)
	cfg := store.DefaultConfig()
	cfg.API = "Customers"
	cfg.Region = "eu-west-1"
	cfg.Account = "123456789012"
	cfg.ResourceIndexes = []string{"attr2"}
	cfg.MetadataIndexes = []string{"owner"}
	return store.New(b, nil, cfg, nil), b
}

func update(t *testing.T, h *store.Handler, id string, req store.UpdateRequest) *store.UpdateResult {
	t.Helper()
	res, err := h.UpdateItem(context.Background(), id, "bob", req)
	if err != nil {
		t.Fatalf("UpdateItem(%s) failed: %v", id, err)
	}
	return res
}

func TestEnsureTables_Idempotent(t *testing.T) {
	b := newSQLiteBackend(t)
	if err := b.EnsureTables(context.Background(), resourceSchema, metadataSchema, []string{"attr2"}, []string{"owner"}); err != nil {
		t.Errorf("second EnsureTables failed: %v", err)
	}
}

func TestCapabilities(t *testing.T) {
	caps := newSQLiteBackend(t).Capabilities()
	if caps.NativeConditionalWrite || caps.Tombstone || caps.ChangeStream {
		t.Errorf("unexpected native capabilities %+v", caps)
	}
	if !caps.FilteredScanLimit || !caps.ParallelScan {
		t.Errorf("expected filtered limit and segments, got %+v", caps)
	}
}

func TestBackend_UpdateAbsentRowRejected(t *testing.T) {
	b := newSQLiteBackend(t)
	res, err := b.Update(context.Background(), statement.NewUpdate(statement.Resource, "nope").Set("attr1", "x"))
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if res.Outcome != store.Rejected {
		t.Errorf("expected Rejected for absent row, got %v", res.Outcome)
	}
}

func TestBackend_InsertConflict(t *testing.T) {
	b := newSQLiteBackend(t)
	ctx := context.Background()
	ins := statement.Decorate(statement.NewUpdate(statement.Resource, "1").Set("attr1", "x"), statement.Who{Identity: "bob", Action: "create"}, true).Insert()

	first, err := b.Insert(ctx, ins)
	if err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	if first.Outcome != store.Applied {
		t.Fatalf("expected Applied, got %v", first.Outcome)
	}
	if first.Record[statement.ItemVersion] != int64(1) || first.Record[statement.Deleted] != false {
		t.Errorf("unexpected inserted record %v", first.Record)
	}

	second, err := b.Insert(ctx, ins)
	if err != nil {
		t.Fatalf("second Insert failed: %v", err)
	}
	if second.Outcome != store.Rejected {
		t.Errorf("expected conflicting insert Rejected, got %v", second.Outcome)
	}
}

func TestBackend_Remove(t *testing.T) {
	h, b := newSQLiteHandler(t)
	update(t, h, "1", store.UpdateRequest{Resource: map[string]any{"attr1": "x"}})

	ctx := context.Background()
	if got, err := b.Remove(ctx, statement.Resource, "1"); err != nil || got != store.Applied {
		t.Errorf("expected Applied, got %v, %v", got, err)
	}
	if got, err := b.Remove(ctx, statement.Resource, "1"); err != nil || got != store.SkippedAlreadyInState {
		t.Errorf("expected SkippedAlreadyInState, got %v, %v", got, err)
	}
}

func TestEngine_EmulatedMerge(t *testing.T) {
	h, _ := newSQLiteHandler(t)
	ctx := context.Background()

	update(t, h, "1", store.UpdateRequest{
		Resource: map[string]any{"attr1": "x", "attr2": "a"},
		Metadata: map[string]any{"owner": "team-1"},
	})
	update(t, h, "1", store.UpdateRequest{Resource: map[string]any{"attr3": "z"}})

	item, err := h.Get(ctx, "1", store.GetOptions{})
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if item.Resource["attr1"] != "x" || item.Resource["attr3"] != "z" {
		t.Errorf("expected merged attributes, got %v", item.Resource)
	}
	if v, _ := statement.Int64(item.Resource[statement.ItemVersion]); v != 2 {
		t.Errorf("expected ItemVersion 2, got %v", item.Resource[statement.ItemVersion])
	}
	if item.Metadata["owner"] != "team-1" {
		t.Errorf("expected metadata owner, got %v", item.Metadata)
	}
}

func TestEngine_RoundTripsTypedValues(t *testing.T) {
	h, _ := newSQLiteHandler(t)
	ctx := context.Background()

	sent := map[string]any{
		"ok":    true,
		"score": 1.5,
		"addr":  map[string]any{"city": "x", "zip": 12.0},
		"tags":  []any{"a", "b"},
	}
	update(t, h, "1", store.UpdateRequest{Resource: sent})

	item, err := h.Get(ctx, "1", store.GetOptions{})
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	for attr, want := range sent {
		if got := item.Resource[attr]; !reflect.DeepEqual(got, want) {
			t.Errorf("%s: expected %#v, got %#v", attr, want, got)
		}
	}
}

func TestEngine_OptimisticConcurrency(t *testing.T) {
	h, _ := newSQLiteHandler(t)
	update(t, h, "1", store.UpdateRequest{Resource: map[string]any{"attr1": "x"}})

	stale := int64(5)
	_, err := h.UpdateItem(context.Background(), "1", "bob", store.UpdateRequest{
		Resource:    map[string]any{"attr1": "y"},
		ItemVersion: &stale,
	})
	if !errors.Is(err, store.ErrConstraintViolation) {
		t.Fatalf("expected ErrConstraintViolation, got %v", err)
	}

	current := int64(1)
	update(t, h, "1", store.UpdateRequest{Resource: map[string]any{"attr1": "y"}, ItemVersion: &current})
}

func TestEngine_SoftDeleteRestore(t *testing.T) {
	h, _ := newSQLiteHandler(t)
	ctx := context.Background()
	update(t, h, "1", store.UpdateRequest{Resource: map[string]any{"attr1": "x"}})

	res, err := h.Delete(ctx, "1", "bob", store.DeleteRequest{})
	if err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if !res.Resource.Modified {
		t.Error("expected delete to modify the resource")
	}
	if err := h.Check(ctx, "1"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected deleted item hidden, got %v", err)
	}
	if _, err := h.UpdateItem(ctx, "1", "bob", store.UpdateRequest{Resource: map[string]any{"attr1": "y"}}); !errors.Is(err, store.ErrConstraintViolation) {
		t.Errorf("expected write to deleted item rejected, got %v", err)
	}

	item, err := h.Restore(ctx, "1", "bob")
	if err != nil {
		t.Fatalf("Restore failed: %v", err)
	}
	if item.Resource["attr1"] != "x" {
		t.Errorf("unexpected restored item %v", item.Resource)
	}
	if _, err := h.Restore(ctx, "1", "bob"); !errors.Is(err, store.ErrInvalidArguments) {
		t.Errorf("expected restoring an active item to be invalid, got %v", err)
	}
}

func TestEngine_TombstoneUnsupported(t *testing.T) {
	h, _ := newSQLiteHandler(t)
	ctx := context.Background()
	update(t, h, "1", store.UpdateRequest{
		Resource: map[string]any{"attr1": "x"},
		Metadata: map[string]any{"owner": "team-1"},
	})

	_, err := h.Delete(ctx, "1", "bob", store.DeleteRequest{Mode: store.DeleteTombstone})
	if !errors.Is(err, store.ErrUnimplemented) {
		t.Fatalf("expected ErrUnimplemented, got %v", err)
	}
	if _, err := h.GetMetadata(ctx, "1"); err != nil {
		t.Errorf("expected metadata untouched, got %v", err)
	}
}

func TestEngine_RemoveAttributes(t *testing.T) {
	h, _ := newSQLiteHandler(t)
	ctx := context.Background()
	update(t, h, "1", store.UpdateRequest{Resource: map[string]any{"attr1": "x", "attr3": "z"}})

	if _, err := h.Delete(ctx, "1", "bob", store.DeleteRequest{Resource: &store.FacetDelete{Attributes: []string{"attr3"}}}); err != nil {
		t.Fatalf("Delete attributes failed: %v", err)
	}
	item, err := h.Get(ctx, "1", store.GetOptions{})
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if _, ok := item.Resource["attr3"]; ok {
		t.Errorf("expected attr3 removed, got %v", item.Resource)
	}
	if item.Resource["attr1"] != "x" {
		t.Errorf("expected attr1 kept, got %v", item.Resource)
	}
}

func TestEngine_ItemMaster(t *testing.T) {
	h, _ := newSQLiteHandler(t)
	ctx := context.Background()
	for _, id := range []string{"1", "2", "3"} {
		update(t, h, id, store.UpdateRequest{Resource: map[string]any{"attr1": id}})
	}

	master := "1"
	res, err := h.ItemMasterUpdate(ctx, "bob", "2,3", &master)
	if err != nil {
		t.Fatalf("ItemMasterUpdate failed: %v", err)
	}
	if len(res) != 2 || !res[0].Modified || !res[1].Modified {
		t.Errorf("unexpected results %+v", res)
	}

	page, err := h.Find(ctx, store.FindRequest{Resource: map[string]any{statement.ItemMasterID: "1"}})
	if err != nil {
		t.Fatalf("Find failed: %v", err)
	}
	if len(page.Items) != 2 {
		t.Errorf("expected 2 linked items, got %v", page.Items)
	}

	if _, err := h.UpdateItem(ctx, "2", "bob", store.UpdateRequest{Resource: map[string]any{"attr1": "y"}}); !errors.Is(err, store.ErrConstraintViolation) {
		t.Errorf("expected member write rejected, got %v", err)
	}

	ok, err := h.ItemMasterDelete(ctx, "bob", "2", "1")
	if err != nil || !ok {
		t.Errorf("expected unlink, got %v, %v", ok, err)
	}
}

func TestEngine_FindAndList(t *testing.T) {
	h, _ := newSQLiteHandler(t)
	ctx := context.Background()
	for i, id := range []string{"1", "2", "3", "4", "5", "6"} {
		attr2 := "odd"
		if i%2 == 1 {
			attr2 = "even"
		}
		update(t, h, id, store.UpdateRequest{
			Resource: map[string]any{"attr2": attr2},
			Metadata: map[string]any{"owner": "team-" + attr2},
		})
	}
	if _, err := h.Delete(ctx, "3", "bob", store.DeleteRequest{}); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}

	page, err := h.Find(ctx, store.FindRequest{Resource: map[string]any{"attr2": "odd"}})
	if err != nil {
		t.Fatalf("Find failed: %v", err)
	}
	if len(page.Items) != 2 {
		t.Errorf("expected 2 visible odd items, got %v", page.Items)
	}

	page, err = h.Find(ctx, store.FindRequest{Metadata: map[string]any{"owner": "team-even"}})
	if err != nil {
		t.Fatalf("Find metadata failed: %v", err)
	}
	if len(page.Items) != 3 {
		t.Errorf("expected 3 even metadata items, got %v", page.Items)
	}

	var seen []string
	var start store.Key
	for {
		page, err := h.List(ctx, store.ListRequest{Limit: 2, ExclusiveStart: start})
		if err != nil {
			t.Fatalf("List failed: %v", err)
		}
		for _, item := range page.Items {
			seen = append(seen, item["id"].(string))
		}
		if page.LastEvaluatedKey == nil {
			break
		}
		start = page.LastEvaluatedKey
	}
	if len(seen) != 5 {
		t.Errorf("expected 5 visible items across pages, got %v", seen)
	}

	total := 2
	var segmented int
	for seg := 0; seg < total; seg++ {
		s := seg
		page, err := h.List(ctx, store.ListRequest{Segment: &s, TotalSegments: &total})
		if err != nil {
			t.Fatalf("List segment %d failed: %v", seg, err)
		}
		segmented += len(page.Items)
	}
	if segmented != 5 {
		t.Errorf("expected segments to cover 5 items, got %d", segmented)
	}
}

func TestEngine_UsageAndStreams(t *testing.T) {
	h, _ := newSQLiteHandler(t)
	ctx := context.Background()
	update(t, h, "1", store.UpdateRequest{Resource: map[string]any{"attr1": "x"}})

	u, err := h.Usage(ctx)
	if err != nil {
		t.Fatalf("Usage failed: %v", err)
	}
	if u.Resource.Count != 1 || u.Metadata.Count != 0 {
		t.Errorf("unexpected usage %+v", u)
	}
	if _, err := h.Streams(ctx); !errors.Is(err, store.ErrUnimplemented) {
		t.Errorf("expected ErrUnimplemented, got %v", err)
	}
}
