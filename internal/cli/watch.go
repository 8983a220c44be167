package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/attrstore/internal/engine"
	"github.com/roach88/attrstore/internal/ir"
)

// WatchOptions holds flags for the watch and watch-rows commands.
type WatchOptions struct {
	*RootOptions
	queryFlags
	Columns   []string
	NoInitial bool
	Bookmarks bool
	Count     int
}

func (o *WatchOptions) register(cmd *cobra.Command) {
	o.queryFlags.register(cmd)
	cmd.Flags().BoolVar(&o.NoInitial, "no-initial", false, "skip Added events for entities matching at start")
	cmd.Flags().BoolVar(&o.Bookmarks, "bookmarks", false, "print bookmark events")
	cmd.Flags().IntVar(&o.Count, "count", 0, "exit after this many non-bookmark events (0 = run until interrupted)")
}

// NewWatchCommand creates the watch command.
func NewWatchCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &WatchOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Stream changes to entities matching a query",
		Long: `Stream Added, Modified, and Removed events for entities matching a query.

With --format json each event is printed as one JSON object per line.

Example:
  attrstore watch --has name
  attrstore watch --has name --no-initial --count 1`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(opts, cmd)
		},
	}
	opts.register(cmd)
	return cmd
}

// NewWatchRowsCommand creates the watch-rows command.
func NewWatchRowsCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &WatchOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "watch-rows",
		Short: "Stream projected rows of entities matching a query",
		Long: `Stream row events for entities matching a query. A Modified event is
sent only when the projected row changes.

Example:
  attrstore watch-rows --has name --columns @id,name`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatchRows(opts, cmd)
		},
	}
	opts.register(cmd)
	cmd.Flags().StringSliceVar(&opts.Columns, "columns", nil, "attribute types to project (required)")
	_ = cmd.MarkFlagRequired("columns")
	return cmd
}

func runWatch(opts *WatchOptions, cmd *cobra.Command) error {
	root, err := opts.node()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	stream, err := opts.client().WatchEntities(ctx, engine.WatchRequest{Root: root, SendInitialEvents: !opts.NoInitial})
	if err != nil {
		return err
	}
	defer stream.Close()

	f := opts.formatter(cmd)
	f.VerboseLog("subscription %s started at seq %d", stream.ID(), stream.StartSeq())
	return consume(ctx, opts, stream, func(w io.Writer, ev ir.Event) {
		switch {
		case ev.Entity != nil:
			fmt.Fprintf(w, "%s seq=%d ", strings.ToUpper(string(ev.Type)), ev.Seq)
			_ = writeEntity(w, ev.Entity)
		default:
			fmt.Fprintf(w, "%s seq=%d\n", strings.ToUpper(string(ev.Type)), ev.Seq)
		}
	}, cmd.OutOrStdout())
}

func runWatchRows(opts *WatchOptions, cmd *cobra.Command) error {
	root, err := opts.node()
	if err != nil {
		return err
	}
	cols, err := parseSymbols(opts.Columns)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	stream, err := opts.client().WatchEntityRows(ctx, engine.WatchRowsRequest{
		Root:              root,
		AttributeTypes:    cols,
		SendInitialEvents: !opts.NoInitial,
	})
	if err != nil {
		return err
	}
	defer stream.Close()

	f := opts.formatter(cmd)
	f.VerboseLog("subscription %s started at seq %d", stream.ID(), stream.StartSeq())
	return consume(ctx, opts, stream, func(w io.Writer, ev ir.RowEvent) {
		fmt.Fprintf(w, "%s seq=%d", strings.ToUpper(string(ev.Type)), ev.Seq)
		if ev.Type != ir.EventBookmark {
			fmt.Fprintf(w, " entity=%d", ev.EntityID)
			for i, v := range ev.Row {
				fmt.Fprintf(w, " %s=%s", cols[i], formatValue(v))
			}
		}
		fmt.Fprintln(w)
	}, cmd.OutOrStdout())
}

type eventSource[E any] interface {
	Next() (E, error)
}

type bookmarker interface {
	IsBookmark() bool
}

// consume prints events until the stream ends, ctx is cancelled, or
// opts.Count events were printed. A clean end of stream and cancellation are
// not errors.
func consume[E bookmarker](ctx context.Context, opts *WatchOptions, src eventSource[E], text func(io.Writer, E), w io.Writer) error {
	enc := json.NewEncoder(w)
	seen := 0
	for {
		ev, err := src.Next()
		if err != nil {
			if errors.Is(err, io.EOF) || ctx.Err() != nil {
				return nil
			}
			return err
		}
		if ev.IsBookmark() && !opts.Bookmarks {
			continue
		}
		if opts.Format == "json" {
			if err := enc.Encode(ev); err != nil {
				return err
			}
		} else {
			text(w, ev)
		}
		if !ev.IsBookmark() {
			seen++
		}
		if opts.Count > 0 && seen >= opts.Count {
			return nil
		}
	}
}
