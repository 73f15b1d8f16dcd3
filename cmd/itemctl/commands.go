package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/jacentio/dataapi/statement"
	"github.com/jacentio/dataapi/store"
)

func (a *app) caller() string {
	return a.v.GetString("caller")
}

func (a *app) checkCmd() *cobra.Command {
	return a.withHandler(&cobra.Command{
		Use:   "check [id|arn]",
		Short: "Check that an item exists and is not deleted",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.handler.Check(cmd.Context(), args[0]); err != nil {
				return err
			}
			id, _ := a.handler.ResolveID(args[0])
			return printJSON(cmd, map[string]any{"Arn": a.handler.Arn(id), "Exists": true})
		},
	})
}

func (a *app) getCmd() *cobra.Command {
	cmd := a.withHandler(&cobra.Command{
		Use:   "get [id|arn]",
		Short: "Get an item and its metadata",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := store.GetOptions{
				SuppressMetadata: a.v.GetBool("suppress-metadata"),
				OnlyAttributes:   a.v.GetStringSlice("only"),
				NotAttributes:    a.v.GetStringSlice("not"),
			}
			master := store.MasterOption(a.v.GetString("master"))
			if master == store.MasterNone {
				item, err := a.handler.Get(cmd.Context(), args[0], opts)
				if err != nil {
					return err
				}
				return printJSON(cmd, item)
			}
			res, err := a.handler.GetWithMaster(cmd.Context(), args[0], master, opts)
			if err != nil {
				return err
			}
			return printJSON(cmd, res)
		},
	})
	cmd.Flags().Bool("suppress-metadata", false, WrapString("do not fetch the item metadata"))
	cmd.Flags().StringSlice("only", nil, WrapString("return only these resource attributes"))
	cmd.Flags().StringSlice("not", nil, WrapString("omit these resource attributes"))
	cmd.Flags().String("master", "", WrapString("item master handling (include, prefer)"))
	return cmd
}

func (a *app) metadataCmd() *cobra.Command {
	return a.withHandler(&cobra.Command{
		Use:   "get-metadata [id|arn]",
		Short: "Get only the metadata of an item",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			meta, err := a.handler.GetMetadata(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd, meta)
		},
	})
}

func (a *app) updateCmd() *cobra.Command {
	cmd := a.withHandler(&cobra.Command{
		Use:   "update [id|arn]",
		Short: "Create or update the resource and metadata of an item",
		Long: `Create or update an item. Resource, metadata and constraints are JSON
objects. With --generate-id a new id is allocated and the id argument is
omitted.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ref, err := itemRef(args, a.v.GetBool("generate-id"))
			if err != nil {
				return err
			}
			var req store.UpdateRequest
			if req.Resource, err = jsonFlag(cmd, "resource"); err != nil {
				return err
			}
			if req.Metadata, err = jsonFlag(cmd, "metadata"); err != nil {
				return err
			}
			if req.Constraints, err = jsonFlag(cmd, "constraints"); err != nil {
				return err
			}
			if cmd.Flags().Changed("version") {
				v := a.v.GetInt64("version")
				req.ItemVersion = &v
			}
			req.StrictValidation = a.v.GetBool("strict")

			res, err := a.handler.UpdateItem(cmd.Context(), ref, a.caller(), req)
			if err != nil {
				return err
			}
			id, _ := a.handler.ResolveID(ref)
			return printJSON(cmd, map[string]any{"Arn": a.handler.Arn(id), "Result": res})
		},
	})
	cmd.Flags().String("resource", "", WrapString("resource attributes as a JSON object"))
	cmd.Flags().String("metadata", "", WrapString("metadata attributes as a JSON object"))
	cmd.Flags().String("constraints", "", WrapString("required stored attribute values as a JSON object"))
	cmd.Flags().Int64("version", 0, WrapString("ItemVersion last read by the caller"))
	cmd.Flags().Bool("strict", false, WrapString("reload schemas before validating"))
	cmd.Flags().Bool("generate-id", false, WrapString("allocate a new random id"))
	return cmd
}

func (a *app) deleteCmd() *cobra.Command {
	cmd := a.withHandler(&cobra.Command{
		Use:   "delete [id|arn]",
		Short: "Delete an item, one facet, or some attributes",
		Long: `Delete an item. Without facet flags the whole item is deleted using the
configured delete mode. --resource or --metadata deletes one facet, and
--resource-attrs or --metadata-attrs removes only the named attributes.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := store.DeleteRequest{
				Resource: facetDelete(a.v.GetBool("resource"), a.v.GetStringSlice("resource-attrs")),
				Metadata: facetDelete(a.v.GetBool("metadata"), a.v.GetStringSlice("metadata-attrs")),
			}
			if mode := a.v.GetString("mode"); mode != "" {
				m, err := store.ParseDeleteMode(mode)
				if err != nil {
					return err
				}
				req.Mode = m
			}
			res, err := a.handler.Delete(cmd.Context(), args[0], a.caller(), req)
			if err != nil {
				return err
			}
			return printJSON(cmd, res)
		},
	})
	cmd.Flags().Bool("resource", false, WrapString("delete the resource facet"))
	cmd.Flags().Bool("metadata", false, WrapString("delete the metadata facet"))
	cmd.Flags().StringSlice("resource-attrs", nil, WrapString("remove only these resource attributes"))
	cmd.Flags().StringSlice("metadata-attrs", nil, WrapString("remove only these metadata attributes"))
	cmd.Flags().String("mode", "", WrapString("delete mode override (Soft, Hard, tombstone)"))
	return cmd
}

func (a *app) restoreCmd() *cobra.Command {
	return a.withHandler(&cobra.Command{
		Use:   "restore [id|arn]",
		Short: "Restore a soft-deleted item",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			item, err := a.handler.Restore(cmd.Context(), args[0], a.caller())
			if err != nil {
				return err
			}
			return printJSON(cmd, item)
		},
	})
}

func (a *app) masterCmd() *cobra.Command {
	master := &cobra.Command{
		Use:   "item-master",
		Short: "Link items to an item master",
	}

	link := a.withHandler(&cobra.Command{
		Use:   "link [master] [ids]",
		Short: "Link a comma-separated list of ids to an item master",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := a.handler.ItemMasterUpdate(cmd.Context(), a.caller(), args[1], &args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd, res)
		},
	})

	unlinkAll := a.withHandler(&cobra.Command{
		Use:   "unlink-all [ids]",
		Short: "Unlink a comma-separated list of ids from any item master",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := a.handler.ItemMasterUpdate(cmd.Context(), a.caller(), args[0], nil)
			if err != nil {
				return err
			}
			return printJSON(cmd, res)
		},
	})

	unlink := a.withHandler(&cobra.Command{
		Use:   "unlink [id|arn] [current-master]",
		Short: "Unlink an item from the item master it currently has",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			modified, err := a.handler.ItemMasterDelete(cmd.Context(), a.caller(), args[0], args[1])
			if err != nil {
				return err
			}
			return printJSON(cmd, store.DataModified{Modified: modified})
		},
	})

	master.AddCommand(link, unlinkAll, unlink)
	return master
}

func (a *app) findCmd() *cobra.Command {
	cmd := a.withHandler(&cobra.Command{
		Use:   "find",
		Short: "Find items by resource or metadata attribute values",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var req store.FindRequest
			var err error
			if req.Resource, err = jsonFlag(cmd, "resource"); err != nil {
				return err
			}
			if req.Metadata, err = jsonFlag(cmd, "metadata"); err != nil {
				return err
			}
			if req.ExclusiveStart, err = jsonFlag(cmd, "start"); err != nil {
				return err
			}
			req.Limit = a.v.GetInt("limit")
			req.ConsistentRead = a.v.GetBool("consistent")
			req.Segment, req.TotalSegments = segmentFlags(cmd)

			page, err := a.handler.Find(cmd.Context(), req)
			if err != nil {
				return err
			}
			return printJSON(cmd, page)
		},
	})
	cmd.Flags().String("resource", "", WrapString("resource attribute values as a JSON object"))
	cmd.Flags().String("metadata", "", WrapString("metadata attribute values as a JSON object"))
	cmd.Flags().Bool("consistent", false, WrapString("use consistent reads for scans"))
	pageFlags(cmd)
	return cmd
}

func (a *app) listCmd() *cobra.Command {
	cmd := a.withHandler(&cobra.Command{
		Use:   "list",
		Short: "List all visible items",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			req := store.ListRequest{Limit: a.v.GetInt("limit")}
			start, err := jsonFlag(cmd, "start")
			if err != nil {
				return err
			}
			req.ExclusiveStart = start
			req.Segment, req.TotalSegments = segmentFlags(cmd)

			page, err := a.handler.List(cmd.Context(), req)
			if err != nil {
				return err
			}
			return printJSON(cmd, page)
		},
	})
	pageFlags(cmd)
	return cmd
}

func (a *app) usageCmd() *cobra.Command {
	return a.withHandler(&cobra.Command{
		Use:   "usage",
		Short: "Show storage usage of both facets",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			u, err := a.handler.Usage(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd, u)
		},
	})
}

func (a *app) streamsCmd() *cobra.Command {
	return a.withHandler(&cobra.Command{
		Use:   "streams",
		Short: "Show the change streams of both facets",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			info, err := a.handler.Streams(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd, info)
		},
	})
}

func pageFlags(cmd *cobra.Command) {
	cmd.Flags().Int("limit", 0, WrapString("maximum number of items to return"))
	cmd.Flags().String("start", "", WrapString("LastEvaluatedKey of the previous page as a JSON object"))
	cmd.Flags().Int("segment", 0, WrapString("parallel scan segment"))
	cmd.Flags().Int("total-segments", 0, WrapString("parallel scan segment count"))
}

// segmentFlags returns the segment flags that were set explicitly.
func segmentFlags(cmd *cobra.Command) (seg, total *int) {
	if cmd.Flags().Changed("segment") {
		v, _ := cmd.Flags().GetInt("segment")
		seg = &v
	}
	if cmd.Flags().Changed("total-segments") {
		v, _ := cmd.Flags().GetInt("total-segments")
		total = &v
	}
	return seg, total
}

func facetDelete(whole bool, attrs []string) *store.FacetDelete {
	if !whole && len(attrs) == 0 {
		return nil
	}
	return &store.FacetDelete{Attributes: attrs}
}

// itemRef returns the id argument, or a new id when generate is set.
func itemRef(args []string, generate bool) (string, error) {
	switch {
	case generate && len(args) > 0:
		return "", fmt.Errorf("%w: --generate-id and an id are mutually exclusive", store.ErrInvalidArguments)
	case generate:
		return uuid.NewString(), nil
	case len(args) == 0:
		return "", fmt.Errorf("%w: an id is required", store.ErrInvalidArguments)
	}
	return args[0], nil
}

// jsonFlag decodes a flag holding a JSON object. A value starting with @
// names a file to read, and @- reads stdin. An unset flag is nil.
func jsonFlag(cmd *cobra.Command, name string) (map[string]any, error) {
	raw, err := cmd.Flags().GetString(name)
	if err != nil || raw == "" {
		return nil, err
	}
	data := []byte(raw)
	if path, ok := strings.CutPrefix(raw, "@"); ok {
		if data, err = readInput(cmd, path); err != nil {
			return nil, err
		}
	}
	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: --%s is not a JSON object: %v", store.ErrInvalidArguments, name, err)
	}
	return doc, nil
}

func readInput(cmd *cobra.Command, path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(cmd.InOrStdin())
	}
	return os.ReadFile(path)
}

func parseFacet(s string) (statement.Facet, error) {
	f, err := statement.ParseFacet(s)
	if err != nil {
		return f, fmt.Errorf("%w: %v", store.ErrInvalidArguments, err)
	}
	return f, nil
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
