package cli

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"

	"github.com/dustin/go-humanize"

	"github.com/roach88/attrstore/internal/api"
	"github.com/roach88/attrstore/internal/engine"
	"github.com/roach88/attrstore/internal/ir"
)

// formatValue renders an attribute value for humans: text quoted, references
// as "-> id", bytes as size plus base64.
func formatValue(v ir.AttributeValue) string {
	switch val := v.(type) {
	case nil:
		return "-"
	case ir.Text:
		return strconv.Quote(string(val))
	case ir.EntityRef:
		return "-> " + ir.EntityID(val).String()
	case ir.Bytes:
		return fmt.Sprintf("<%s> %s", humanize.Bytes(uint64(len(val))), base64.StdEncoding.EncodeToString(val))
	default:
		return fmt.Sprintf("%v", v)
	}
}

func writeEntity(w io.Writer, e *ir.Entity) error {
	if _, err := fmt.Fprintf(w, "entity %d (version %d)\n", e.ID, e.Version); err != nil {
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for _, sym := range e.Attributes.SortedSymbols() {
		fmt.Fprintf(tw, "  %s\t%s\n", sym, formatValue(e.Attributes[sym]))
	}
	return tw.Flush()
}

type entityResult struct {
	entity *ir.Entity
}

func (r entityResult) MarshalJSON() ([]byte, error) { return json.Marshal(r.entity) }

func (r entityResult) WriteText(w io.Writer) error { return writeEntity(w, r.entity) }

type entitySetResult struct {
	set engine.EntitySet
}

func (r entitySetResult) MarshalJSON() ([]byte, error) {
	return json.Marshal(api.QueryResponse{Seq: r.set.Seq, Entities: r.set.Entities})
}

func (r entitySetResult) WriteText(w io.Writer) error {
	fmt.Fprintf(w, "%s at seq %d\n", pluralize(len(r.set.Entities), "entity", "entities"), r.set.Seq)
	for _, e := range r.set.Entities {
		if err := writeEntity(w, e); err != nil {
			return err
		}
	}
	return nil
}

type rowSetResult struct {
	symbols []ir.Symbol
	set     engine.RowSet
}

func (r rowSetResult) MarshalJSON() ([]byte, error) {
	return json.Marshal(api.QueryRowsResponse{Seq: r.set.Seq, IDs: r.set.IDs, Rows: r.set.Rows})
}

func (r rowSetResult) WriteText(w io.Writer) error {
	fmt.Fprintf(w, "%s at seq %d\n", pluralize(len(r.set.Rows), "row", "rows"), r.set.Seq)
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprint(tw, "ENTITY")
	for _, sym := range r.symbols {
		fmt.Fprintf(tw, "\t%s", sym)
	}
	fmt.Fprintln(tw)
	for i, row := range r.set.Rows {
		fmt.Fprint(tw, r.set.IDs[i])
		for _, v := range row {
			fmt.Fprintf(tw, "\t%s", formatValue(v))
		}
		fmt.Fprintln(tw)
	}
	return tw.Flush()
}

type pingResult struct {
	api.PingResponse
	Addr string `json:"addr"`
}

func (r pingResult) WriteText(w io.Writer) error {
	_, err := fmt.Fprintf(w, "attrstore %s at %s, head seq %d\n", r.Version, r.Addr, r.Head)
	return err
}

type logResult struct {
	records []ir.MutationRecord
}

func (r logResult) MarshalJSON() ([]byte, error) {
	if r.records == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(r.records)
}

func (r logResult) WriteText(w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SEQ\tOP\tENTITY\tATTRIBUTES")
	for _, rec := range r.records {
		n := 0
		if rec.After != nil {
			n = len(rec.After.Attributes)
		}
		fmt.Fprintf(tw, "%d\t%s\t%d\t%d\n", rec.Seq, rec.Op, rec.EntityID, n)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	_, err := fmt.Fprintln(w, pluralize(len(r.records), "record", "records"))
	return err
}

func pluralize(n int, one, many string) string {
	if n == 1 {
		return "1 " + one
	}
	return humanize.Comma(int64(n)) + " " + many
}
