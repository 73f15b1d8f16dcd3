package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"

	"github.com/jacentio/dataapi/backend/dynamo"
	"github.com/jacentio/dataapi/backend/memory"
	"github.com/jacentio/dataapi/backend/relational"
	"github.com/jacentio/dataapi/metastore"
	"github.com/jacentio/dataapi/store"
)

// Backend names accepted by --backend.
const (
	backendDynamo   = "dynamo"
	backendPostgres = "postgres"
	backendSQLite   = "sqlite"
	backendMemory   = "memory"
)

// handlerConfig builds the engine configuration from flags and environment.
func (a *app) handlerConfig(api string) (store.Config, error) {
	config := store.DefaultConfig()
	config.API = api
	config.Table = a.v.GetString("table")
	config.Namespace = a.v.GetString("namespace")
	config.Region = a.v.GetString("region")
	config.Account = a.v.GetString("account")
	config.AllowRuntimeDeleteModeChange = a.v.GetBool("allow-delete-mode-change")
	config.ResourceIndexes = a.v.GetStringSlice("resource-indexes")
	config.MetadataIndexes = a.v.GetStringSlice("metadata-indexes")
	config.SchemaRefreshHitCount = a.v.GetInt("schema-refresh")
	config.AllowNonItemMasterWrites = a.v.GetBool("allow-member-writes")
	config.StrictOCC = a.v.GetBool("strict-occ")
	config.MaxResponseSize = a.v.GetInt("max-response-size")

	mode, err := store.ParseDeleteMode(a.v.GetString("delete-mode"))
	if err != nil {
		return config, err
	}
	config.DeleteMode = mode
	return config, nil
}

// buildHandler wires the backend and schema source of api.
func (a *app) buildHandler(ctx context.Context, api string) (*store.Handler, error) {
	config, err := a.handlerConfig(api)
	if err != nil {
		return nil, err
	}
	table := config.Table
	if table == "" {
		table = api
	}

	var client *dynamodb.Client
	kind := strings.ToLower(a.v.GetString("backend"))
	if kind == backendDynamo || a.v.GetString("control-table") != "" {
		client, err = a.dynamoClient(ctx)
		if err != nil {
			return nil, err
		}
		if config.Region == "" {
			config.Region = client.Options().Region
		}
	}

	switch kind {
	case backendDynamo:
		a.backend = dynamo.New(client, dynamo.DefaultConfig(table), a.logger)
	case backendPostgres, backendSQLite:
		dialect, err := relational.DialectFor(kind)
		if err != nil {
			return nil, err
		}
		rc := relational.DefaultConfig(table)
		rc.Dialect = dialect
		dsn := a.v.GetString("dsn")
		if dsn == "" {
			return nil, fmt.Errorf("%w: --dsn is required for the %s backend", store.ErrInvalidArguments, kind)
		}
		a.backend, err = relational.Open(ctx, dsn, rc, a.logger)
		if err != nil {
			return nil, err
		}
	case backendMemory:
		a.backend = memory.New("id")
	default:
		return nil, fmt.Errorf("%w: unknown backend %q", store.ErrInvalidArguments, kind)
	}

	if a.source, err = a.schemaSource(client); err != nil {
		return nil, err
	}

	a.logger.Debug("built handler", "api", api, "backend", kind, "table", table)
	return store.New(a.backend, a.source, config, a.logger), nil
}

// schemaSource returns the schema file source when one is configured, else
// the control table source when a DynamoDB client is available, else nil.
func (a *app) schemaSource(client *dynamodb.Client) (store.SchemaSource, error) {
	if path := a.v.GetString("schema-file"); path != "" {
		return metastore.LoadFile(path)
	}
	if client != nil {
		return metastore.NewDynamoSource(client, metastore.Config{
			Table: a.v.GetString("control-table"),
			Stage: a.v.GetString("stage"),
		}, a.logger), nil
	}
	return nil, nil
}

// dynamoClient loads the default AWS configuration chain.
func (a *app) dynamoClient(ctx context.Context) (*dynamodb.Client, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if region := a.v.GetString("region"); region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}
	endpoint := a.v.GetString("endpoint")
	return dynamodb.NewFromConfig(cfg, func(o *dynamodb.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	}), nil
}
