// Package metastore serves Data API schema documents to the storage engine.
//
// DynamoSource reads them from the API control table, where each API has one
// item per schema type keyed on (api, type). StaticSource serves documents
// held in memory or loaded from a JSON or YAML file.
package metastore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/jacentio/dataapi/statement"
	"github.com/jacentio/dataapi/store"
)

// Control table layout.
const (
	DefaultControlTable = "AwsDataApi"
	HashKey             = "api"
	SortKey             = "type"

	TypeAPIMetadata    = "ApiMetadata"
	TypeResourceSchema = "JsonSchema-Resource"
	TypeMetadataSchema = "JsonSchema-Metadata"
)

// Client is the subset of the DynamoDB client used by DynamoSource.
type Client interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	Scan(ctx context.Context, params *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
}

// Config holds configuration for DynamoSource.
type Config struct {
	// Table is the control table name.
	// Default: "AwsDataApi"
	Table string

	// Stage is appended to API names as "<api>-<stage>" when set.
	Stage string
}

// DynamoSource reads schemas from the DynamoDB control table.
type DynamoSource struct {
	client Client
	config Config
	logger *slog.Logger
	now    func() time.Time
}

// NewDynamoSource creates a DynamoSource. A nil logger uses slog.Default().
func NewDynamoSource(client Client, config Config, logger *slog.Logger) *DynamoSource {
	if config.Table == "" {
		config.Table = DefaultControlTable
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &DynamoSource{client: client, config: config, logger: logger, now: time.Now}
}

// SchemaType returns the control item type holding a facet's schema.
func SchemaType(facet statement.Facet) string {
	if facet == statement.Metadata {
		return TypeMetadataSchema
	}
	return TypeResourceSchema
}

func (s *DynamoSource) apiKey(api string) string {
	if s.config.Stage == "" {
		return api
	}
	return api + "-" + s.config.Stage
}

func (s *DynamoSource) key(api, controlType string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		HashKey: &types.AttributeValueMemberS{Value: s.apiKey(api)},
		SortKey: &types.AttributeValueMemberS{Value: controlType},
	}
}

// FetchSchema returns the facet schema of api, or nil when none is stored.
// The schema is nested under an attribute named after its type, and may be
// stored either as a map or as JSON text.
func (s *DynamoSource) FetchSchema(ctx context.Context, api string, facet statement.Facet) (map[string]any, error) {
	controlType := SchemaType(facet)
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.config.Table),
		Key:            s.key(api, controlType),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("metastore: get %s schema for %s: %w", facet, api, err)
	}
	av, ok := out.Item[controlType]
	if !ok {
		s.logger.Debug("no schema stored", "api", api, "facet", facet.String())
		return nil, nil
	}

	var raw any
	if err := attributevalue.Unmarshal(av, &raw); err != nil {
		return nil, fmt.Errorf("metastore: decode %s schema for %s: %w", facet, api, err)
	}
	return schemaDocument(raw)
}

// schemaDocument accepts a decoded schema attribute.
func schemaDocument(raw any) (map[string]any, error) {
	switch v := raw.(type) {
	case map[string]any:
		return v, nil
	case string:
		var doc map[string]any
		if err := json.Unmarshal([]byte(v), &doc); err != nil {
			return nil, fmt.Errorf("%w: schema is not a JSON object: %v", store.ErrInvalidArguments, err)
		}
		return doc, nil
	case nil:
		return nil, nil
	}
	return nil, fmt.Errorf("%w: unexpected schema type %T", store.ErrInvalidArguments, raw)
}

// PutSchema stores the facet schema of api, stamping the caller.
func (s *DynamoSource) PutSchema(ctx context.Context, api string, facet statement.Facet, caller string, schema map[string]any) error {
	if schema == nil {
		return errors.New("metastore: nil schema")
	}
	controlType := SchemaType(facet)
	update := expression.Set(expression.Name(controlType), expression.Value(schema)).
		Set(expression.Name(statement.LastUpdatedBy), expression.Value(caller)).
		Set(expression.Name(statement.LastUpdateDate), expression.Value(s.now().UTC().Format(time.RFC3339))).
		Set(expression.Name(statement.LastUpdateAction), expression.Value(statement.ActionUpdate))
	expr, err := expression.NewBuilder().WithUpdate(update).Build()
	if err != nil {
		return fmt.Errorf("metastore: build update: %w", err)
	}

	_, err = s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(s.config.Table),
		Key:                       s.key(api, controlType),
		UpdateExpression:          expr.Update(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	})
	if err != nil {
		return fmt.Errorf("metastore: put %s schema for %s: %w", facet, api, err)
	}
	s.logger.Info("stored schema", "api", api, "facet", facet.String(), "caller", caller)
	return nil
}

// APIs lists the API names registered in the control table.
func (s *DynamoSource) APIs(ctx context.Context) ([]string, error) {
	filter := expression.Name(SortKey).Equal(expression.Value(TypeAPIMetadata))
	expr, err := expression.NewBuilder().
		WithFilter(filter).
		WithProjection(expression.NamesList(expression.Name(HashKey))).
		Build()
	if err != nil {
		return nil, fmt.Errorf("metastore: build scan: %w", err)
	}

	paginator := dynamodb.NewScanPaginator(s.client, &dynamodb.ScanInput{
		TableName:                 aws.String(s.config.Table),
		FilterExpression:          expr.Filter(),
		ProjectionExpression:      expr.Projection(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	})

	var apis []string
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("metastore: scan control table: %w", err)
		}
		for _, item := range page.Items {
			if v, ok := item[HashKey].(*types.AttributeValueMemberS); ok {
				apis = append(apis, v.Value)
			}
		}
	}
	return apis, nil
}

var _ store.SchemaSource = (*DynamoSource)(nil)
