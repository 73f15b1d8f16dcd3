// Package dynamo provides a StorageBackend over Amazon DynamoDB.
//
// The Resource and Metadata facets live in two tables sharing a hash key;
// Metadata records are keyed by the item id plus a suffix. Conditional writes
// are native, so every update is a single UpdateItem whose condition is
// evaluated atomically with the mutation.
package dynamo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/jacentio/dataapi/statement"
	"github.com/jacentio/dataapi/store"
)

// Backend stores items in a pair of DynamoDB tables.
type Backend struct {
	client API
	config Config
	logger *slog.Logger
}

// New creates a Backend. A nil logger uses slog.Default().
func New(client API, config Config, logger *slog.Logger) *Backend {
	config.validate()
	if logger == nil {
		logger = slog.Default()
	}
	return &Backend{client: client, config: config, logger: logger}
}

func (b *Backend) Capabilities() store.Capabilities {
	return store.Capabilities{
		NativeConditionalWrite: true,
		Tombstone:              true,
		ChangeStream:           true,
		ParallelScan:           true,
	}
}

func (b *Backend) KeyAttribute() string { return b.config.KeyAttribute }

func (b *Backend) table(facet statement.Facet) string {
	if facet == statement.Metadata {
		return b.config.MetadataTable
	}
	return b.config.Table
}

// storedID returns the hash key value of a facet record.
func (b *Backend) storedID(facet statement.Facet, id string) string {
	if facet == statement.Metadata {
		return id + b.config.MetadataSuffix
	}
	return id
}

func (b *Backend) key(facet statement.Facet, id string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		b.config.KeyAttribute: &types.AttributeValueMemberS{Value: b.storedID(facet, id)},
	}
}

func (b *Backend) Get(ctx context.Context, facet statement.Facet, id string, attrs []string) (store.Record, error) {
	input := &dynamodb.GetItemInput{
		TableName:      aws.String(b.table(facet)),
		Key:            b.key(facet, id),
		ConsistentRead: aws.Bool(b.config.ConsistentReads),
	}
	expr, ok, err := newBuilder(Columns).project(attrs).build()
	if err != nil {
		return nil, err
	}
	if ok {
		input.ProjectionExpression = expr.Projection()
		input.ExpressionAttributeNames = expr.Names()
	}

	result, err := b.client.GetItem(ctx, input)
	if err != nil {
		return nil, err
	}
	if result.Item == nil {
		return nil, nil
	}
	return b.record(facet, result.Item)
}

func (b *Backend) Update(ctx context.Context, u *statement.Update) (store.WriteResult, error) {
	eb := newBuilder(Columns).update(u.Actions)
	if err := eb.condition(u.Where); err != nil {
		return store.WriteResult{}, err
	}
	expr, _, err := eb.build()
	if err != nil {
		return store.WriteResult{}, err
	}

	input := &dynamodb.UpdateItemInput{
		TableName:                 aws.String(b.table(u.Facet)),
		Key:                       b.key(u.Facet, u.Key),
		UpdateExpression:          expr.Update(),
		ConditionExpression:       expr.Condition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
		ReturnValues:              types.ReturnValueAllNew,
	}

	result, err := b.client.UpdateItem(ctx, input)
	if err != nil {
		var condErr *types.ConditionalCheckFailedException
		if errors.As(err, &condErr) {
			b.logger.Debug("conditional update rejected", "table", b.table(u.Facet), "id", u.Key)
			return store.WriteResult{Outcome: store.Rejected}, nil
		}
		return store.WriteResult{}, err
	}
	rec, err := b.record(u.Facet, result.Attributes)
	if err != nil {
		return store.WriteResult{}, err
	}
	return store.WriteResult{Outcome: store.Applied, Record: rec}, nil
}

func (b *Backend) Insert(ctx context.Context, ins *statement.Insert) (store.WriteResult, error) {
	values := map[string]any{b.config.KeyAttribute: b.storedID(ins.Facet, ins.Key)}
	for _, a := range ins.Values {
		values[Columns.Physical(a.Attr)] = a.Value
	}
	item, err := attributevalue.MarshalMap(values)
	if err != nil {
		return store.WriteResult{}, fmt.Errorf("marshal item: %w", err)
	}

	eb := newBuilder(Columns)
	if err := eb.condition(statement.NotExists{Attr: b.config.KeyAttribute}); err != nil {
		return store.WriteResult{}, err
	}
	expr, _, err := eb.build()
	if err != nil {
		return store.WriteResult{}, err
	}
	_, err = b.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:                aws.String(b.table(ins.Facet)),
		Item:                     item,
		ConditionExpression:      expr.Condition(),
		ExpressionAttributeNames: expr.Names(),
	})
	if err != nil {
		var condErr *types.ConditionalCheckFailedException
		if errors.As(err, &condErr) {
			return store.WriteResult{Outcome: store.Rejected}, nil
		}
		return store.WriteResult{}, err
	}
	rec, err := b.record(ins.Facet, item)
	if err != nil {
		return store.WriteResult{}, err
	}
	return store.WriteResult{Outcome: store.Applied, Record: rec}, nil
}

func (b *Backend) Remove(ctx context.Context, facet statement.Facet, id string) (store.Outcome, error) {
	result, err := b.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName:    aws.String(b.table(facet)),
		Key:          b.key(facet, id),
		ReturnValues: types.ReturnValueAllOld,
	})
	if err != nil {
		return store.Rejected, err
	}
	if len(result.Attributes) == 0 {
		return store.SkippedAlreadyInState, nil
	}
	return store.Applied, nil
}

func (b *Backend) Query(ctx context.Context, spec store.QuerySpec) (*store.RawPage, error) {
	eb := newBuilder(Columns).keyEquals(spec.Attr, spec.Value).project(spec.Attrs)
	if err := eb.filter(spec.Filter); err != nil {
		return nil, err
	}
	expr, _, err := eb.build()
	if err != nil {
		return nil, err
	}

	table := b.table(spec.Facet)
	input := &dynamodb.QueryInput{
		TableName:                 aws.String(table),
		IndexName:                 aws.String(IndexName(table, Columns.Physical(spec.Attr))),
		KeyConditionExpression:    expr.KeyCondition(),
		FilterExpression:          expr.Filter(),
		ProjectionExpression:      expr.Projection(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	}
	if spec.Limit > 0 {
		input.Limit = aws.Int32(clampInt32(spec.Limit))
	}
	if spec.Start != nil {
		if input.ExclusiveStartKey, err = b.startKey(spec.Facet, spec.Start); err != nil {
			return nil, err
		}
	}

	page, err := b.client.Query(ctx, input)
	if err != nil {
		return nil, err
	}
	b.logger.Debug("queried", "table", table, "index", aws.ToString(input.IndexName), "scanned", page.ScannedCount, "returned", page.Count)
	return b.page(spec.Facet, page.Items, page.LastEvaluatedKey)
}

func (b *Backend) Scan(ctx context.Context, spec store.ScanSpec) (*store.RawPage, error) {
	eb := newBuilder(Columns).project(spec.Attrs)
	if err := eb.filter(spec.Filter); err != nil {
		return nil, err
	}
	expr, _, err := eb.build()
	if err != nil {
		return nil, err
	}

	table := b.table(spec.Facet)
	input := &dynamodb.ScanInput{
		TableName:                 aws.String(table),
		FilterExpression:          expr.Filter(),
		ProjectionExpression:      expr.Projection(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	}
	if spec.Limit > 0 {
		input.Limit = aws.Int32(clampInt32(spec.Limit))
	}
	if spec.TotalSegments > 0 {
		input.Segment = aws.Int32(int32(spec.Segment))
		input.TotalSegments = aws.Int32(int32(spec.TotalSegments))
	}
	if spec.ConsistentRead {
		input.ConsistentRead = aws.Bool(true)
	}
	if spec.Start != nil {
		if input.ExclusiveStartKey, err = b.startKey(spec.Facet, spec.Start); err != nil {
			return nil, err
		}
	}

	page, err := b.client.Scan(ctx, input)
	if err != nil {
		return nil, err
	}
	b.logger.Debug("scanned", "table", table, "scanned", page.ScannedCount, "returned", page.Count)
	return b.page(spec.Facet, page.Items, page.LastEvaluatedKey)
}

func (b *Backend) Usage(ctx context.Context, facet statement.Facet) (store.FacetUsage, error) {
	out, err := b.client.DescribeTable(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(b.table(facet))})
	if err != nil {
		return store.FacetUsage{}, err
	}
	return store.FacetUsage{
		SizeBytes: aws.ToInt64(out.Table.TableSizeBytes),
		Count:     aws.ToInt64(out.Table.ItemCount),
	}, nil
}

func (b *Backend) Streams(ctx context.Context) (*store.StreamInfo, error) {
	res, err := b.client.DescribeTable(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(b.config.Table)})
	if err != nil {
		return nil, err
	}
	meta, err := b.client.DescribeTable(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(b.config.MetadataTable)})
	if err != nil {
		return nil, err
	}
	return &store.StreamInfo{
		ResourceTableARN:  aws.ToString(res.Table.TableArn),
		ResourceStreamARN: aws.ToString(res.Table.LatestStreamArn),
		MetadataTableARN:  aws.ToString(meta.Table.TableArn),
		MetadataStreamARN: aws.ToString(meta.Table.LatestStreamArn),
	}, nil
}

// Close is a no-op; the SDK client holds no per-backend resources.
func (b *Backend) Close() error { return nil }

// record converts a stored item into an engine record.
func (b *Backend) record(facet statement.Facet, item map[string]types.AttributeValue) (store.Record, error) {
	var raw map[string]any
	if err := attributevalue.UnmarshalMap(item, &raw); err != nil {
		return nil, fmt.Errorf("unmarshal item: %w", err)
	}
	rec := store.Record(Columns.LogicalRecord(raw))
	if id, ok := rec[b.config.KeyAttribute].(string); ok && facet == statement.Metadata {
		rec[b.config.KeyAttribute] = strings.TrimSuffix(id, b.config.MetadataSuffix)
	}
	if v, ok := statement.Int64(rec[statement.ItemVersion]); ok {
		rec[statement.ItemVersion] = v
	}
	return rec, nil
}

func (b *Backend) page(facet statement.Facet, items []map[string]types.AttributeValue, last map[string]types.AttributeValue) (*store.RawPage, error) {
	out := &store.RawPage{Items: make([]store.Record, 0, len(items))}
	for _, item := range items {
		rec, err := b.record(facet, item)
		if err != nil {
			return nil, err
		}
		out.Items = append(out.Items, rec)
	}
	if len(last) > 0 {
		key, err := b.record(facet, last)
		if err != nil {
			return nil, err
		}
		out.LastKey = store.Key(key)
	}
	return out, nil
}

// startKey converts a cursor into an ExclusiveStartKey.
func (b *Backend) startKey(facet statement.Facet, k store.Key) (map[string]types.AttributeValue, error) {
	raw := make(map[string]any, len(k))
	for attr, v := range k {
		if attr == b.config.KeyAttribute {
			v = b.storedID(facet, fmt.Sprint(v))
		}
		raw[Columns.Physical(attr)] = v
	}
	av, err := attributevalue.MarshalMap(raw)
	if err != nil {
		return nil, fmt.Errorf("marshal start key: %w", err)
	}
	return av, nil
}

func clampInt32(n int) int32 {
	if n > math.MaxInt32 {
		return math.MaxInt32
	}
	return int32(n)
}

var _ store.StorageBackend = (*Backend)(nil)
