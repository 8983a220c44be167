package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/attrstore/internal/engine"
	"github.com/roach88/attrstore/internal/ir"
	"github.com/roach88/attrstore/internal/queryir"
	"github.com/roach88/attrstore/internal/store"
)

// queryFlags are shared by query, watch, and watch-rows.
type queryFlags struct {
	Query string
	Has   []string
}

func (f *queryFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.Query, "query", "q", "", `query tree as JSON, e.g. '{"hasAttributeTypes":{"attributeTypes":["name"]}}'`)
	cmd.Flags().StringSliceVar(&f.Has, "has", nil, "match entities that have all of these attribute types")
}

// node builds the query root. --query and --has combine with AND; with
// neither the query matches everything.
func (f *queryFlags) node() (queryir.Node, error) {
	var clauses []queryir.Node
	if f.Query != "" {
		n, err := queryir.Unmarshal([]byte(f.Query))
		if err != nil {
			return nil, fmt.Errorf("invalid --query: %w", err)
		}
		clauses = append(clauses, n)
	}
	if len(f.Has) > 0 {
		syms, err := parseSymbols(f.Has)
		if err != nil {
			return nil, err
		}
		clauses = append(clauses, queryir.Has(syms...))
	}
	switch len(clauses) {
	case 0:
		return queryir.MatchAll{}, nil
	case 1:
		return clauses[0], nil
	default:
		return queryir.AllOf(clauses...), nil
	}
}

func parseSymbols(in []string) ([]ir.Symbol, error) {
	out := make([]ir.Symbol, 0, len(in))
	for _, s := range in {
		sym, err := ir.ParseSymbol(s)
		if err != nil {
			return nil, err
		}
		out = append(out, sym)
	}
	return out, nil
}

// QueryOptions holds flags for the query command.
type QueryOptions struct {
	*RootOptions
	queryFlags
	Columns  []string
	Database string
}

// NewQueryCommand creates the query command.
func NewQueryCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &QueryOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "query",
		Short: "List entities matching a query",
		Long: `List every entity matching a query as of one seq, ordered by id.

With --columns the result is a table of rows projected onto those attribute
types; "@id" is the entity id.

With --db the query runs against a journal file instead of a server. The
journal must not be open by a running server. Attribute types are not
checked offline, so an unknown symbol matches nothing.

Example:
  attrstore query --has name
  attrstore query --has name --columns @id,name,parent
  attrstore query --db ./attrstore.db --query '{"matchAll":{}}'`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runQuery(opts, cmd)
		},
	}

	opts.queryFlags.register(cmd)
	cmd.Flags().StringSliceVar(&opts.Columns, "columns", nil, "project results onto these attribute types")
	cmd.Flags().StringVar(&opts.Database, "db", "", "query a journal file offline")

	return cmd
}

func runQuery(opts *QueryOptions, cmd *cobra.Command) error {
	root, err := opts.node()
	if err != nil {
		return err
	}
	var cols []ir.Symbol
	if opts.Columns != nil {
		if cols, err = parseSymbols(opts.Columns); err != nil {
			return err
		}
	}

	f := opts.formatter(cmd)
	if opts.Database != "" {
		f.VerboseLog("querying journal %s", opts.Database)
		return queryOffline(cmd.Context(), f, opts.Database, root, cols)
	}

	c := opts.client()
	if cols != nil {
		rows, err := c.QueryEntityRows(cmd.Context(), engine.EntityQuery{Root: root, AttributeTypes: cols})
		if err != nil {
			return err
		}
		return f.Success(rowSetResult{symbols: cols, set: rows})
	}
	set, err := c.QueryEntities(cmd.Context(), root)
	if err != nil {
		return err
	}
	return f.Success(entitySetResult{set: set})
}

func queryOffline(ctx context.Context, f *OutputFormatter, path string, root queryir.Node, cols []ir.Symbol) error {
	st, err := openJournal(path)
	if err != nil {
		return err
	}
	defer st.Close()

	seq, err := st.LastSeq(ctx)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read journal", err)
	}
	entities, err := st.QueryEntities(ctx, root)
	if err != nil {
		if queryir.IsValidationError(err) {
			return &engine.Error{Code: engine.CodeInvalidArgument, Message: err.Error()}
		}
		return WrapExitError(ExitCommandError, "failed to query journal", err)
	}

	if cols == nil {
		return f.Success(entitySetResult{set: engine.EntitySet{Seq: seq, Entities: entities}})
	}
	rows := engine.RowSet{Seq: seq, IDs: make([]ir.EntityID, 0, len(entities)), Rows: make([]ir.EntityRow, 0, len(entities))}
	for _, e := range entities {
		rows.IDs = append(rows.IDs, e.ID)
		rows.Rows = append(rows.Rows, engine.Project(e, cols))
	}
	return f.Success(rowSetResult{symbols: cols, set: rows})
}

// openJournal opens an existing journal file. Unlike store.Open it refuses
// to create one.
func openJournal(path string) (*store.Store, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, WrapExitError(ExitCommandError, "journal not found", err)
	}
	st, err := store.Open(path)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open journal", err)
	}
	return st, nil
}

// LogOptions holds flags for the log command.
type LogOptions struct {
	*RootOptions
	Database string
	After    int64
	Limit    int
}

// NewLogCommand creates the log command.
func NewLogCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &LogOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "log",
		Short: "Print mutation records from a journal file",
		Long: `Print the durable mutation log in seq order.

Example:
  attrstore log --db ./attrstore.db
  attrstore log --db ./attrstore.db --after 6 --limit 20 --format json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLog(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to journal file (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().Int64Var(&opts.After, "after", 0, "start after this seq")
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "maximum number of records (0 = all)")

	return cmd
}

func runLog(opts *LogOptions, cmd *cobra.Command) error {
	st, err := openJournal(opts.Database)
	if err != nil {
		return err
	}
	defer st.Close()

	recs, err := st.ReadRange(cmd.Context(), ir.Seq(opts.After), opts.Limit)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read journal", err)
	}
	return opts.formatter(cmd).Success(logResult{records: recs})
}
