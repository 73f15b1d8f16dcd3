package metastore

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/jacentio/dataapi/backend/memory"
	"github.com/jacentio/dataapi/statement"
	"github.com/jacentio/dataapi/store"
)

type fakeClient struct {
	items   map[string]map[string]types.AttributeValue
	gets    []*dynamodb.GetItemInput
	update  *dynamodb.UpdateItemInput
	pages   [][]map[string]types.AttributeValue
	scans   int
	failGet error
}

func itemKey(key map[string]types.AttributeValue) string {
	api := key[HashKey].(*types.AttributeValueMemberS).Value
	typ := key[SortKey].(*types.AttributeValueMemberS).Value
	return api + "/" + typ
}

func (f *fakeClient) GetItem(_ context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	f.gets = append(f.gets, in)
	if f.failGet != nil {
		return nil, f.failGet
	}
	return &dynamodb.GetItemOutput{Item: f.items[itemKey(in.Key)]}, nil
}

func (f *fakeClient) UpdateItem(_ context.Context, in *dynamodb.UpdateItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
	f.update = in
	return &dynamodb.UpdateItemOutput{}, nil
}

func (f *fakeClient) Scan(_ context.Context, in *dynamodb.ScanInput, _ ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error) {
	out := &dynamodb.ScanOutput{Items: f.pages[f.scans]}
	f.scans++
	if f.scans < len(f.pages) {
		out.LastEvaluatedKey = map[string]types.AttributeValue{HashKey: &types.AttributeValueMemberS{Value: "cursor"}}
	}
	return out, nil
}

var customerSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"attr1": map[string]any{"type": "string"},
	},
	"required": []any{"attr1"},
}

func TestSchemaType(t *testing.T) {
	if SchemaType(statement.Resource) != "JsonSchema-Resource" {
		t.Errorf("unexpected resource type %q", SchemaType(statement.Resource))
	}
	if SchemaType(statement.Metadata) != "JsonSchema-Metadata" {
		t.Errorf("unexpected metadata type %q", SchemaType(statement.Metadata))
	}
}

func TestDynamoSource_FetchSchema(t *testing.T) {
	nested, err := attributevalue.Marshal(customerSchema)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	f := &fakeClient{items: map[string]map[string]types.AttributeValue{
		"Customers-prod/JsonSchema-Resource": {
			HashKey:            &types.AttributeValueMemberS{Value: "Customers-prod"},
			SortKey:            &types.AttributeValueMemberS{Value: TypeResourceSchema},
			TypeResourceSchema: nested,
		},
		"Customers-prod/JsonSchema-Metadata": {
			TypeMetadataSchema: &types.AttributeValueMemberS{Value: `{"type":"object"}`},
		},
	}}
	src := NewDynamoSource(f, Config{Stage: "prod"}, nil)
	ctx := context.Background()

	doc, err := src.FetchSchema(ctx, "Customers", statement.Resource)
	if err != nil {
		t.Fatalf("FetchSchema failed: %v", err)
	}
	if doc["type"] != "object" {
		t.Errorf("unexpected schema %v", doc)
	}
	if aws.ToString(f.gets[0].TableName) != DefaultControlTable || !aws.ToBool(f.gets[0].ConsistentRead) {
		t.Errorf("unexpected request %+v", f.gets[0])
	}

	meta, err := src.FetchSchema(ctx, "Customers", statement.Metadata)
	if err != nil {
		t.Fatalf("FetchSchema metadata failed: %v", err)
	}
	if meta["type"] != "object" {
		t.Errorf("expected schema decoded from JSON text, got %v", meta)
	}
}

func TestDynamoSource_FetchSchemaAbsent(t *testing.T) {
	src := NewDynamoSource(&fakeClient{}, Config{}, nil)
	doc, err := src.FetchSchema(context.Background(), "Customers", statement.Resource)
	if err != nil || doc != nil {
		t.Errorf("expected nil schema, got %v, %v", doc, err)
	}
}

func TestDynamoSource_FetchSchemaError(t *testing.T) {
	boom := errors.New("throttled")
	src := NewDynamoSource(&fakeClient{failGet: boom}, Config{}, nil)
	if _, err := src.FetchSchema(context.Background(), "Customers", statement.Resource); !errors.Is(err, boom) {
		t.Errorf("expected wrapped client error, got %v", err)
	}
}

func TestSchemaDocument(t *testing.T) {
	if _, err := schemaDocument("not json"); !errors.Is(err, store.ErrInvalidArguments) {
		t.Errorf("expected ErrInvalidArguments, got %v", err)
	}
	if _, err := schemaDocument(12.0); !errors.Is(err, store.ErrInvalidArguments) {
		t.Errorf("expected ErrInvalidArguments for number, got %v", err)
	}
	if doc, err := schemaDocument(nil); doc != nil || err != nil {
		t.Errorf("expected nil, got %v, %v", doc, err)
	}
}

func TestDynamoSource_PutSchema(t *testing.T) {
	f := &fakeClient{}
	src := NewDynamoSource(f, Config{Table: "Control"}, nil)

	if err := src.PutSchema(context.Background(), "Customers", statement.Metadata, "bob", customerSchema); err != nil {
		t.Fatalf("PutSchema failed: %v", err)
	}
	if aws.ToString(f.update.TableName) != "Control" {
		t.Errorf("unexpected table %s", aws.ToString(f.update.TableName))
	}
	if itemKey(f.update.Key) != "Customers/JsonSchema-Metadata" {
		t.Errorf("unexpected key %s", itemKey(f.update.Key))
	}
	names := map[string]bool{}
	for _, n := range f.update.ExpressionAttributeNames {
		names[n] = true
	}
	for _, want := range []string{TypeMetadataSchema, statement.LastUpdatedBy, statement.LastUpdateDate} {
		if !names[want] {
			t.Errorf("expected %q in update names %v", want, f.update.ExpressionAttributeNames)
		}
	}

	if err := src.PutSchema(context.Background(), "Customers", statement.Metadata, "bob", nil); err == nil {
		t.Error("expected nil schema rejected")
	}
}

func TestDynamoSource_APIs(t *testing.T) {
	api := func(name string) map[string]types.AttributeValue {
		return map[string]types.AttributeValue{HashKey: &types.AttributeValueMemberS{Value: name}}
	}
	f := &fakeClient{pages: [][]map[string]types.AttributeValue{
		{api("Customers-prod"), api("Orders-prod")},
		{api("Stock-prod")},
	}}

	apis, err := NewDynamoSource(f, Config{}, nil).APIs(context.Background())
	if err != nil {
		t.Fatalf("APIs failed: %v", err)
	}
	if len(apis) != 3 || apis[2] != "Stock-prod" {
		t.Errorf("unexpected APIs %v", apis)
	}
	if f.scans != 2 {
		t.Errorf("expected 2 scan pages, got %d", f.scans)
	}
}

const schemaYAML = `
Customers:
  Resource:
    type: object
    properties:
      attr1:
        type: string
    required: [attr1]
  Metadata:
    type: object
Orders:
  resource:
    type: object
`

func TestParse(t *testing.T) {
	src, err := Parse([]byte(schemaYAML))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	apis := src.APIs()
	if len(apis) != 2 || apis[0] != "Customers" || apis[1] != "Orders" {
		t.Errorf("unexpected APIs %v", apis)
	}

	doc, _ := src.FetchSchema(context.Background(), "Customers", statement.Resource)
	if doc["type"] != "object" {
		t.Errorf("unexpected schema %v", doc)
	}
	if doc, _ := src.FetchSchema(context.Background(), "Orders", statement.Metadata); doc != nil {
		t.Errorf("expected no Orders metadata schema, got %v", doc)
	}

	if _, err := Parse([]byte("Customers:\n  Extra: {}\n")); !errors.Is(err, store.ErrInvalidArguments) {
		t.Errorf("expected unknown facet rejected, got %v", err)
	}
}

func TestLoadFile_JSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "schemas.json")
	if err := os.WriteFile(path, []byte(`{"Customers": {"Metadata": {"type": "object"}}}`), 0o600); err != nil {
		t.Fatal(err)
	}
	src, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile failed: %v", err)
	}
	doc, _ := src.FetchSchema(context.Background(), "Customers", statement.Metadata)
	if doc["type"] != "object" {
		t.Errorf("unexpected schema %v", doc)
	}

	if _, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected missing file error")
	}
}

func TestStaticSource_PutRemove(t *testing.T) {
	src := NewStaticSource()
	src.Put("Customers", statement.Resource, customerSchema)
	src.Put("Customers", statement.Resource, nil)
	if doc, _ := src.FetchSchema(context.Background(), "Customers", statement.Resource); doc != nil {
		t.Errorf("expected schema removed, got %v", doc)
	}
}

func TestStaticSource_DrivesValidation(t *testing.T) {
	src, err := Parse([]byte(schemaYAML))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	cfg := store.DefaultConfig()
	cfg.API = "Customers"
	h := store.New(memory.New("id"), src, cfg, nil)
	ctx := context.Background()

	if _, err := h.UpdateItem(ctx, "1", "bob", store.UpdateRequest{Resource: map[string]any{"attr2": "x"}}); !errors.Is(err, store.ErrSchemaViolation) {
		t.Errorf("expected ErrSchemaViolation, got %v", err)
	}
	if _, err := h.UpdateItem(ctx, "1", "bob", store.UpdateRequest{Resource: map[string]any{"attr1": "x"}}); err != nil {
		t.Errorf("expected valid item accepted, got %v", err)
	}
}
