package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/attrstore/internal/ir"
	"github.com/roach88/attrstore/internal/queryir"
)

func TestCompile_Semantics(t *testing.T) {
	q := NewQueryEngine(nil)
	e := &ir.Entity{ID: 9, Attributes: ir.Attributes{"a": ir.Text("x"), "b": ir.Text("y")}}

	tests := []struct {
		name string
		node queryir.Node
		want bool
	}{
		{"match all", queryir.MatchAll{}, true},
		{"match none", queryir.MatchNone{}, false},
		{"empty and", queryir.And{}, true},
		{"empty or", queryir.Or{}, false},
		{"empty has", queryir.Has(), true},
		{"has present", queryir.Has("a", "b"), true},
		{"has missing", queryir.Has("a", "c"), false},
		{"has virtual id", queryir.Has(ir.SymbolEntityID), true},
		{"and mixed", queryir.AllOf(queryir.Has("a"), queryir.MatchNone{}), false},
		{"or mixed", queryir.AnyOf(queryir.Has("c"), queryir.Has("b")), true},
		{"nested", queryir.AllOf(queryir.AnyOf(queryir.MatchNone{}, queryir.Has("a")), queryir.AllOf()), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, q.Compile(tt.node)(e))
		})
	}
}

func TestProject(t *testing.T) {
	e := &ir.Entity{ID: 4, Attributes: ir.Attributes{"name": ir.Text("Alice"), "blob": ir.Bytes{0xff}}}

	row := Project(e, []ir.Symbol{"blob", ir.SymbolEntityID, "missing", "name"})
	assert.Equal(t, ir.EntityRow{ir.Bytes{0xff}, ir.EntityRef(4), nil, ir.Text("Alice")}, row)

	assert.Empty(t, Project(e, nil))
}

func TestQueryEntityRows_Identities(t *testing.T) {
	s, _ := newPeopleStore(t)
	mustCreate(t, s, "bob", ir.Set("name", ir.Text("Bob")))
	ctx := context.Background()
	cols := []ir.Symbol{ir.SymbolEntityID}

	all, err := s.QueryEntityRows(ctx, EntityQuery{Root: queryir.MatchAll{}, AttributeTypes: cols})
	require.NoError(t, err)
	require.Len(t, all.Rows, int(s.table.nextID()))
	for i, row := range all.Rows {
		assert.Equal(t, ir.EntityRow{ir.EntityRef(i)}, row, "rows are ordered by id")
		assert.Equal(t, ir.EntityID(i), all.IDs[i])
	}

	for _, root := range []queryir.Node{queryir.And{}, queryir.Has()} {
		got, err := s.QueryEntityRows(ctx, EntityQuery{Root: root, AttributeTypes: cols})
		require.NoError(t, err)
		assert.Equal(t, all, got)
	}

	none, err := s.QueryEntityRows(ctx, EntityQuery{Root: queryir.Or{}, AttributeTypes: cols})
	require.NoError(t, err)
	assert.Empty(t, none.Rows)
	assert.Equal(t, all.Seq, none.Seq)
}

func TestQueryEntityRows_Projection(t *testing.T) {
	s, alice := newPeopleStore(t)
	bob := mustCreate(t, s, "bob", ir.Set("name", ir.Text("Bob")), ir.Set("parent", ir.EntityRef(alice.ID)))

	got, err := s.QueryEntityRows(context.Background(), EntityQuery{
		Root:           queryir.Has("name"),
		AttributeTypes: []ir.Symbol{"name", "parent", "unregistered"},
	})
	require.NoError(t, err)
	assert.Equal(t, []ir.EntityID{alice.ID, bob.ID}, got.IDs)
	assert.Equal(t, []ir.EntityRow{
		{ir.Text("Alice"), nil, nil},
		{ir.Text("Bob"), ir.EntityRef(alice.ID), nil},
	}, got.Rows)
}

func TestQueryEntityRows_Ghost(t *testing.T) {
	s, _ := newPeopleStore(t)
	ctx := context.Background()

	roots := []queryir.Node{
		queryir.Has("ghost"),
		queryir.AllOf(queryir.MatchAll{}, queryir.Has("name", "ghost")),
		queryir.AnyOf(queryir.AnyOf(queryir.Has("ghost"))),
	}
	for _, root := range roots {
		_, err := s.QueryEntityRows(ctx, EntityQuery{Root: root})
		require.Error(t, err)
		assert.True(t, IsInvalidArgument(err), "error: %v", err)
		assert.Contains(t, err.Error(), "unknown attribute types")
	}
}

func TestQueryEntityRows_Malformed(t *testing.T) {
	s, _ := newPeopleStore(t)
	ctx := context.Background()

	_, err := s.QueryEntityRows(ctx, EntityQuery{})
	assert.True(t, IsInvalidArgument(err), "nil root")

	_, err = s.QueryEntityRows(ctx, EntityQuery{Root: queryir.AllOf(nil)})
	assert.True(t, IsInvalidArgument(err), "nil clause")

	_, err = s.QueryEntityRows(ctx, EntityQuery{Root: queryir.MatchAll{}, AttributeTypes: []ir.Symbol{`x"y`}})
	assert.True(t, IsInvalidArgument(err), "malformed projection symbol")
}

func TestQueryEntities_IdempotentBetweenMutations(t *testing.T) {
	s, alice := newPeopleStore(t)
	ctx := context.Background()
	root := queryir.Has("name")

	first, err := s.QueryEntities(ctx, root)
	require.NoError(t, err)
	second, err := s.QueryEntities(ctx, root)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	mustUpdate(t, s, ir.ByID(alice.ID), ir.Set("name", ir.Text("Alicia")))
	third, err := s.QueryEntities(ctx, root)
	require.NoError(t, err)
	assert.NotEqual(t, first, third)
	assert.Greater(t, third.Seq, first.Seq)
}

func TestSnapshot_IsStable(t *testing.T) {
	s, alice := newPeopleStore(t)
	ctx := context.Background()

	sn, err := s.Snapshot(ctx)
	require.NoError(t, err)
	defer sn.Release()

	mustUpdate(t, s, ir.ByID(alice.ID), ir.Set("name", ir.Text("Alicia")))
	mustCreate(t, s, "bob", ir.Set("name", ir.Text("Bob")))
	_, err = s.DeleteEntity(ctx, ir.ByID(alice.ID))
	require.NoError(t, err)

	got, err := sn.Get(ir.BySymbol("alice"))
	require.NoError(t, err)
	assert.Equal(t, alice, got)

	_, err = sn.Get(ir.BySymbol("bob"))
	assert.True(t, IsNotFound(err), "entities created after the snapshot are invisible")

	rows, err := sn.QueryEntityRows(EntityQuery{Root: queryir.Has("name"), AttributeTypes: []ir.Symbol{"name"}})
	require.NoError(t, err)
	assert.Equal(t, sn.Seq(), rows.Seq)
	assert.Equal(t, []ir.EntityRow{{ir.Text("Alice")}}, rows.Rows)
}

func TestSnapshot_ReleaseTwice(t *testing.T) {
	s := newTestStore(t)
	sn, err := s.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, s.pins.len())
	sn.Release()
	sn.Release()
	assert.Equal(t, 0, s.pins.len())
}
