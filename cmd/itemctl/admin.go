package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/jacentio/dataapi/backend/dynamo"
	"github.com/jacentio/dataapi/backend/relational"
	"github.com/jacentio/dataapi/metastore"
	"github.com/jacentio/dataapi/statement"
	"github.com/jacentio/dataapi/store"
	"github.com/jacentio/dataapi/stream"
)

// setupSource builds only the schema source, for commands that do not
// touch item storage.
func (a *app) setupSource(cmd *cobra.Command, _ []string) error {
	if err := a.setupLogger(cmd); err != nil {
		return err
	}
	var client *dynamodb.Client
	if a.v.GetString("schema-file") == "" {
		var err error
		if client, err = a.dynamoClient(cmd.Context()); err != nil {
			return err
		}
	}
	source, err := a.schemaSource(client)
	if err != nil {
		return err
	}
	a.source = source
	return nil
}

func (a *app) setupLogger(cmd *cobra.Command) error {
	if err := a.v.BindPFlags(cmd.Flags()); err != nil {
		return err
	}
	a.logger = newLogger(a.v.GetString("log-level"))
	return nil
}

func (a *app) requireAPI() (string, error) {
	api := a.v.GetString("api")
	if api == "" {
		return "", fmt.Errorf("%w: --api is required", store.ErrInvalidArguments)
	}
	return api, nil
}

func (a *app) schemaCmd() *cobra.Command {
	schema := &cobra.Command{
		Use:   "schema",
		Short: "Read and write API schemas",
	}

	get := &cobra.Command{
		Use:      "get [Resource|Metadata]",
		Short:    "Print the JSON Schema of a facet",
		Args:     cobra.ExactArgs(1),
		PreRunE:  a.setupSource,
		PostRunE: a.teardown,
		RunE: func(cmd *cobra.Command, args []string) error {
			api, err := a.requireAPI()
			if err != nil {
				return err
			}
			facet, err := parseFacet(args[0])
			if err != nil {
				return err
			}
			doc, err := a.source.FetchSchema(cmd.Context(), api, facet)
			if err != nil {
				return err
			}
			if doc == nil {
				return fmt.Errorf("%w: no %s schema for %s", store.ErrNotFound, facet, api)
			}
			return printJSON(cmd, doc)
		},
	}

	put := &cobra.Command{
		Use:   "put [Resource|Metadata] [file]",
		Short: "Store the JSON Schema of a facet in the control table",
		Long: `Store a facet schema read from a JSON or YAML file, or from stdin when
the file is "-".`,
		Args:     cobra.ExactArgs(2),
		PreRunE:  a.setupSource,
		PostRunE: a.teardown,
		RunE: func(cmd *cobra.Command, args []string) error {
			api, err := a.requireAPI()
			if err != nil {
				return err
			}
			facet, err := parseFacet(args[0])
			if err != nil {
				return err
			}
			dyn, ok := a.source.(*metastore.DynamoSource)
			if !ok {
				return fmt.Errorf("%w: schema put requires the control table", store.ErrUnimplemented)
			}
			raw, err := readInput(cmd, args[1])
			if err != nil {
				return err
			}
			var doc map[string]any
			if err := yaml.Unmarshal(raw, &doc); err != nil {
				return fmt.Errorf("%w: schema: %v", store.ErrInvalidArguments, err)
			}
			if err := dyn.PutSchema(cmd.Context(), api, facet, a.caller(), doc); err != nil {
				return err
			}
			return printJSON(cmd, store.DataModified{Modified: true})
		},
	}

	apis := &cobra.Command{
		Use:      "apis",
		Short:    "List the APIs with stored schemas",
		Args:     cobra.NoArgs,
		PreRunE:  a.setupSource,
		PostRunE: a.teardown,
		RunE: func(cmd *cobra.Command, args []string) error {
			switch src := a.source.(type) {
			case *metastore.StaticSource:
				return printJSON(cmd, src.APIs())
			case *metastore.DynamoSource:
				names, err := src.APIs(cmd.Context())
				if err != nil {
					return err
				}
				return printJSON(cmd, names)
			}
			return fmt.Errorf("%w: no schema source configured", store.ErrInvalidArguments)
		},
	}

	schema.AddCommand(get, put, apis)
	return schema
}

func (a *app) initTablesCmd() *cobra.Command {
	return a.withHandler(&cobra.Command{
		Use:   "init-tables",
		Short: "Create the relational tables and indexes of an API",
		Long: `Create the Resource and Metadata tables of an API on a relational
backend. Columns are derived from the facet schemas when a schema source
is configured.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rb, ok := a.backend.(*relational.Backend)
			if !ok {
				return fmt.Errorf("%w: init-tables requires a relational backend", store.ErrUnimplemented)
			}
			config := a.handler.Config()
			var schemas [2]map[string]any
			if a.source != nil {
				for i, facet := range []statement.Facet{statement.Resource, statement.Metadata} {
					doc, err := a.source.FetchSchema(cmd.Context(), config.API, facet)
					if err != nil {
						return err
					}
					schemas[i] = doc
				}
			}
			if err := rb.EnsureTables(cmd.Context(), schemas[0], schemas[1], config.ResourceIndexes, config.MetadataIndexes); err != nil {
				return err
			}
			return printJSON(cmd, map[string]any{"API": config.API, "Table": config.Table})
		},
	})
}

// decodedEvent is the printed form of a change event.
type decodedEvent struct {
	Facet string `json:"facet"`
	stream.ChangeEvent
}

func (a *app) decodeStreamCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "decode-stream [file]",
		Short: "Decode a DynamoDB stream event into item changes",
		Long: `Decode a DynamoDB stream event, as delivered to a Lambda function, and
print one change per record. Reads stdin when the file is "-".`,
		Args: cobra.ExactArgs(1),
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setupLogger(cmd)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			table := a.v.GetString("table")
			if table == "" {
				api, err := a.requireAPI()
				if err != nil {
					return err
				}
				table = api
			}
			raw, err := readInput(cmd, args[0])
			if err != nil {
				return err
			}
			var event events.DynamoDBEvent
			if err := json.Unmarshal(raw, &event); err != nil {
				return fmt.Errorf("%w: stream event: %v", store.ErrInvalidArguments, err)
			}

			sink := stream.SinkFunc(func(_ context.Context, ev stream.ChangeEvent) error {
				return printJSON(cmd, decodedEvent{Facet: ev.Facet.String(), ChangeEvent: ev})
			})
			h := stream.NewHandler(dynamo.DefaultConfig(table), sink, a.logger)
			return h.HandleEvent(cmd.Context(), event)
		},
		PostRunE: a.teardown,
	}
}
