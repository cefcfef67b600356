// Package core is the versioned ingestion engine.
//
// It turns tabular input into generations of relational tables, recording
// every load in the append-only ledger (package ledger). It has no transport
// dependencies and is used by the CLI, the batch runner and the HTTP server
// alike.
//
// # Operations
//
//   - [Service.Ingest] normalizes identifiers, mints the next control id for
//     the table, tags every row with it, writes split child tables and
//     appends the rows. Everything commits in one transaction.
//   - [Service.Harmonize] copies the latest generation of each table in a
//     set to one shared generation, max(latest)+1.
//   - [Service.Preview] reports what an ingest would do without writing.
//   - [Service.Query], [Service.QueryFile] and [Service.ReadTable] read the
//     store.
//
// # Control ids
//
// A control id is the table name followed by its generation, e.g.
// "shipments2". Only the ledger mints them. Table names may not end in a
// digit, so an id always splits back into one (table, generation) pair.
//
// # Splits
//
// A [SplitSpec] explodes a delimited column into a child table: one row per
// non-empty fragment, tagged with the child table's own control id and
// linked to its parent row by a copied column or by the parent row number.
//
// # Concurrency
//
// Writes go through a [WriterGate] with a single slot, so concurrent calls
// in one process queue rather than mint the same generation twice. Separate
// processes writing to one store must coordinate themselves.
//
// # Error Handling
//
// Typed errors ([MissingTableError], [SplitFormatError],
// ident.InvalidIdentifierError, ledger.WriteError) are mapped to user-facing
// messages with codes by [MapError].
package core
