// Package store provides a storage consistency engine for Data API items.
//
// An item is a pair of independently stored facets, a Resource record and a
// Metadata record, sharing one primary key. The [Handler] gives callers the
// same versioned CRUD, delete-state machine and item master semantics on every
// [StorageBackend], whether the backend supports conditional writes natively
// (DynamoDB, in memory) or has them emulated by the engine (relational).
//
// # Key Features
//
//   - Insert-or-update ("merge") writes with who-column decoration
//   - Optimistic concurrency on ItemVersion
//   - Soft, hard and tombstone deletes, with restore from soft delete
//   - Item master (golden record) linking and unlinking
//   - JSON Schema validation per facet with a hit-counted schema cache
//   - Index-or-scan query routing with pagination cursors
//
// # Backends
//
// A backend implements [StorageBackend] and advertises what it can do through
// [Capabilities]. The engine dispatches on capabilities, never on backend
// identity:
//
//	h := store.New(backend, source, store.DefaultConfig(), logger)
//	res, err := h.UpdateItem(ctx, "42", "bob", store.UpdateRequest{
//	    Resource: map[string]any{"attr1": "x"},
//	})
//
// Backends without NativeConditionalWrite get emulated merges: an UPDATE
// guarded by the write condition, falling back to an insert-if-absent when no
// row matched. Two writers racing on a new id can both observe the absent row,
// so the guarantee is weaker than a native conditional write.
//
// # Concurrency
//
// A Handler owns one backend connection and is driven by one request at a
// time. It starts no goroutines and holds no locks; all cross-writer safety
// comes from the backend's conditional write.
//
// # Errors
//
// The package defines domain-specific errors, matched with errors.Is:
//
//   - [ErrNotFound] - unknown or deleted id, or unknown item master
//   - [ErrInvalidArguments] - malformed request
//   - [ErrConstraintViolation] - version mismatch or rejected conditional write
//   - [ErrSchemaViolation] - payload fails the facet schema
//   - [ErrUnimplemented] - operation unsupported by the backend
//
// Backend driver failures are returned as [*BackendError].
package store
