package cli

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/attrstore/internal/engine"
	"github.com/roach88/attrstore/internal/ir"
)

// NewPingCommand creates the ping command.
func NewPingCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "ping",
		Short: "Check that the server is reachable",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := rootOpts.client().Ping(cmd.Context())
			if err != nil {
				return err
			}
			return rootOpts.formatter(cmd).Success(pingResult{PingResponse: resp, Addr: rootOpts.Addr})
		},
	}
}

// NewCreateAttributeTypeCommand creates the create-attribute-type command.
func NewCreateAttributeTypeCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "create-attribute-type <symbol> <text|entityRef|bytes>",
		Short: "Register a new attribute type",
		Long: `Register a new attribute type. The value type cannot be changed later.

Example:
  attrstore create-attribute-type name text
  attrstore create-attribute-type parent entityRef`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			sym, err := ir.ParseSymbol(args[0])
			if err != nil {
				return err
			}
			kind, err := ir.ParseValueKind(args[1])
			if err != nil {
				return err
			}
			e, err := rootOpts.client().CreateAttributeType(cmd.Context(), ir.AttributeType{Symbol: sym, ValueKind: kind})
			if err != nil {
				return err
			}
			return rootOpts.formatter(cmd).Success(entityResult{e})
		},
	}
}

// NewGetCommand creates the get command.
func NewGetCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "get <locator>",
		Short: "Fetch one entity by id or symbol",
		Long: `Fetch the current state of one entity.

The locator is "id:N", "symbol:NAME", or a bare id or symbol.

Example:
  attrstore get 7
  attrstore get symbol:name`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			loc, err := ir.ParseLocator(args[0])
			if err != nil {
				return err
			}
			e, err := rootOpts.client().GetEntity(cmd.Context(), loc)
			if err != nil {
				return err
			}
			return rootOpts.formatter(cmd).Success(entityResult{e})
		},
	}
}

// UpdateOptions holds flags for the update command.
type UpdateOptions struct {
	*RootOptions
	Set        []string
	Clear      []string
	Attributes string
	Create     bool
}

// NewUpdateCommand creates the update command.
func NewUpdateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &UpdateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "update <locator>",
		Short: "Set or clear attributes of an entity",
		Long: `Set or clear attributes of one entity in a single commit.

Values given with --set are text unless prefixed with a kind:
  name=Alice           text
  name=text:ref:x      text that starts with a kind prefix
  parent=ref:7         entity reference
  avatar=bytes:AQID    bytes, base64 encoded

--create names a new entity by symbol: it sets @symbolName to the locator's
symbol so the update creates the entity when it does not exist yet.

Example:
  attrstore update symbol:alice --create --set name=Alice
  attrstore update 7 --set parent=ref:8 --clear nickname
  attrstore update 7 --attributes '[{"attributeType":"name","attributeValue":{"text":"Al"}}]'`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUpdate(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringArrayVar(&opts.Set, "set", nil, "set an attribute (symbol=value, repeatable)")
	cmd.Flags().StringArrayVar(&opts.Clear, "clear", nil, "clear an attribute (repeatable)")
	cmd.Flags().StringVar(&opts.Attributes, "attributes", "", "attributes to update as a JSON array")
	cmd.Flags().BoolVar(&opts.Create, "create", false, "create the entity named by a symbol locator")

	return cmd
}

func runUpdate(opts *UpdateOptions, locArg string, cmd *cobra.Command) error {
	loc, err := ir.ParseLocator(locArg)
	if err != nil {
		return err
	}
	entries, err := updateEntries(opts, loc)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		return fmt.Errorf("nothing to update: pass --set, --clear, --attributes, or --create")
	}

	e, err := opts.client().UpdateEntity(cmd.Context(), engine.UpdateRequest{Locator: loc, Attributes: entries})
	if err != nil {
		return err
	}
	return opts.formatter(cmd).Success(entityResult{e})
}

// updateEntries collects entries in flag order: --create, --attributes,
// --set, then --clear.
func updateEntries(opts *UpdateOptions, loc ir.EntityLocator) ([]ir.AttributeToUpdate, error) {
	var entries []ir.AttributeToUpdate
	if opts.Create {
		sym, ok := loc.(ir.BySymbol)
		if !ok {
			return nil, fmt.Errorf("--create needs a symbol locator, got %s", loc)
		}
		entries = append(entries, ir.Set(ir.SymbolSymbolName, ir.Text(sym)))
	}
	if opts.Attributes != "" {
		var raw []ir.AttributeToUpdate
		if err := json.Unmarshal([]byte(opts.Attributes), &raw); err != nil {
			return nil, fmt.Errorf("invalid --attributes JSON: %w", err)
		}
		entries = append(entries, raw...)
	}
	for _, s := range opts.Set {
		u, err := parseSetFlag(s)
		if err != nil {
			return nil, err
		}
		entries = append(entries, u)
	}
	for _, s := range opts.Clear {
		sym, err := ir.ParseSymbol(s)
		if err != nil {
			return nil, err
		}
		entries = append(entries, ir.Clear(sym))
	}
	return entries, nil
}

// parseSetFlag parses "symbol=value" with an optional kind prefix on value.
func parseSetFlag(s string) (ir.AttributeToUpdate, error) {
	name, value, ok := strings.Cut(s, "=")
	if !ok {
		return ir.AttributeToUpdate{}, fmt.Errorf("invalid --set %q: want symbol=value", s)
	}
	sym, err := ir.ParseSymbol(name)
	if err != nil {
		return ir.AttributeToUpdate{}, err
	}
	v, err := parseValue(value)
	if err != nil {
		return ir.AttributeToUpdate{}, fmt.Errorf("invalid --set %q: %w", s, err)
	}
	return ir.Set(sym, v), nil
}

func parseValue(s string) (ir.AttributeValue, error) {
	switch {
	case strings.HasPrefix(s, "text:"):
		return ir.Text(strings.TrimPrefix(s, "text:")), nil
	case strings.HasPrefix(s, "ref:"):
		id, err := strconv.ParseInt(strings.TrimPrefix(s, "ref:"), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("entity reference: %w", err)
		}
		return ir.EntityRef(id), nil
	case strings.HasPrefix(s, "bytes:"):
		b, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(s, "bytes:"))
		if err != nil {
			return nil, fmt.Errorf("bytes: %w", err)
		}
		return ir.Bytes(b), nil
	default:
		return ir.Text(s), nil
	}
}

// NewDeleteCommand creates the delete command.
func NewDeleteCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <locator>",
		Short: "Delete an entity and print its last state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			loc, err := ir.ParseLocator(args[0])
			if err != nil {
				return err
			}
			e, err := rootOpts.client().DeleteEntity(cmd.Context(), loc)
			if err != nil {
				return err
			}
			return rootOpts.formatter(cmd).Success(entityResult{e})
		},
	}
}
