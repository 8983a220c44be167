package ir

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEntity_GetVirtualID(t *testing.T) {
	e := &Entity{ID: 9, Version: 12, Attributes: Attributes{"name": Text("Alice")}}

	v, ok := e.Get(SymbolEntityID)
	require.True(t, ok)
	assert.Equal(t, EntityRef(9), v)

	v, ok = e.Get("name")
	require.True(t, ok)
	assert.Equal(t, Text("Alice"), v)

	_, ok = e.Get("missing")
	assert.False(t, ok)
	assert.True(t, e.Has(SymbolEntityID))
}

func TestEntity_SymbolName(t *testing.T) {
	e := &Entity{Attributes: Attributes{SymbolSymbolName: Text("name"), SymbolValueType: EntityRef(IDValueTypeText)}}

	name, ok := e.SymbolName()
	require.True(t, ok)
	assert.Equal(t, Symbol("name"), name)
	assert.True(t, e.IsAttributeType())

	plain := &Entity{Attributes: Attributes{}}
	_, ok = plain.SymbolName()
	assert.False(t, ok)
	assert.False(t, plain.IsAttributeType())
}

func TestAttributes_Equal(t *testing.T) {
	a := Attributes{"name": Text("Alice"), "blob": Bytes{1}}
	b := Attributes{"blob": Bytes{1}, "name": Text("Alice")}
	assert.True(t, a.Equal(b))

	b["name"] = Text("Bob")
	assert.False(t, a.Equal(b))

	assert.False(t, a.Equal(Attributes{"name": Text("Alice")}))
	assert.True(t, Attributes(nil).Equal(Attributes{}))
}

func TestAttributes_CloneIsIndependent(t *testing.T) {
	a := Attributes{"name": Text("Alice")}
	c := a.Clone()
	c["name"] = Text("Bob")
	assert.Equal(t, Text("Alice"), a["name"])

	assert.NotNil(t, Attributes(nil).Clone())
}

func TestAttributes_SortedSymbols(t *testing.T) {
	a := Attributes{"b": Text(""), "a": Text(""), "@id": Text("")}
	assert.Equal(t, []Symbol{"@id", "a", "b"}, a.SortedSymbols())
}

func TestEntity_JSONRoundTrip(t *testing.T) {
	e := Entity{
		ID:      7,
		Version: 9,
		Attributes: Attributes{
			"name":   Text("Alice"),
			"parent": EntityRef(3),
			"blob":   Bytes{0xde, 0xad},
		},
	}

	data, err := json.Marshal(e)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"entityId": 7,
		"entityVersion": 9,
		"attributes": {
			"name": {"text": "Alice"},
			"parent": {"entityRef": 3},
			"blob": {"bytes": "3q0="}
		}
	}`, string(data))

	var decoded Entity
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, e.ID, decoded.ID)
	assert.Equal(t, e.Version, decoded.Version)
	assert.True(t, e.Attributes.Equal(decoded.Attributes))
}

func TestAttributes_UnmarshalRejectsNull(t *testing.T) {
	var a Attributes
	err := json.Unmarshal([]byte(`{"name":null}`), &a)
	assert.Error(t, err)
}

func TestAttributes_UnmarshalRejectsBadSymbol(t *testing.T) {
	var a Attributes
	err := json.Unmarshal([]byte(`{"a\\b":{"text":"x"}}`), &a)
	var ise *InvalidSymbolError
	assert.ErrorAs(t, err, &ise)
}

func TestEntityRow_JSON(t *testing.T) {
	row := EntityRow{EntityRef(4), nil, Text("Alice")}

	data, err := json.Marshal(row)
	require.NoError(t, err)
	assert.JSONEq(t, `{"values":[{"entityRef":4},null,{"text":"Alice"}]}`, string(data))

	var decoded EntityRow
	require.NoError(t, json.Unmarshal(data, &decoded))
	require.Len(t, decoded, 3)
	assert.Equal(t, EntityRef(4), decoded[0])
	assert.Nil(t, decoded[1])
	assert.Equal(t, Text("Alice"), decoded[2])
}

func TestAttributeToUpdate_JSON(t *testing.T) {
	set := Set("name", Text("Bob"))
	data, err := json.Marshal(set)
	require.NoError(t, err)
	assert.JSONEq(t, `{"attributeType":"name","attributeValue":{"text":"Bob"}}`, string(data))

	cleared := Clear("name")
	data, err = json.Marshal(cleared)
	require.NoError(t, err)
	assert.JSONEq(t, `{"attributeType":"name","attributeValue":null}`, string(data))

	var decoded AttributeToUpdate
	require.NoError(t, json.Unmarshal([]byte(`{"attributeType":"name"}`), &decoded))
	assert.Equal(t, Symbol("name"), decoded.Symbol)
	assert.Nil(t, decoded.Value)
}

func TestLocator_JSON(t *testing.T) {
	tests := []struct {
		name     string
		locator  EntityLocator
		expected string
	}{
		{"by id", ByID(12), `{"entityId":12}`},
		{"by id zero", ByID(0), `{"entityId":0}`},
		{"by symbol", BySymbol("e1"), `{"symbol":"e1"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := MarshalLocator(tt.locator)
			require.NoError(t, err)
			assert.JSONEq(t, tt.expected, string(data))

			decoded, err := UnmarshalLocator(data)
			require.NoError(t, err)
			assert.Equal(t, tt.locator, decoded)
		})
	}
}

func TestLocator_UnmarshalErrors(t *testing.T) {
	for _, input := range []string{`{}`, `{"entityId":1,"symbol":"x"}`, `{"symbol":""}`, `[]`} {
		_, err := UnmarshalLocator([]byte(input))
		assert.Error(t, err, input)
	}
}

func TestLocator_String(t *testing.T) {
	assert.Equal(t, "id:5", ByID(5).String())
	assert.Equal(t, "symbol:e1", BySymbol("e1").String())
}

func TestBootstrapAttributes(t *testing.T) {
	boot := BootstrapAttributes()
	require.Len(t, boot, BootstrapEntityCount)

	seen := map[Symbol]bool{}
	for id, attrs := range boot {
		name, ok := attrs[SymbolSymbolName].(Text)
		require.True(t, ok, "entity %d has no symbol name", id)
		assert.False(t, seen[Symbol(name)])
		seen[Symbol(name)] = true
		assert.True(t, IsBootstrap(EntityID(id)))
	}
	assert.False(t, IsBootstrap(BootstrapEntityCount))

	for _, at := range BootstrapTypes() {
		marker, ok := KindMarker(at.ValueKind)
		require.True(t, ok)
		kind, ok := KindForMarker(marker)
		require.True(t, ok)
		assert.Equal(t, at.ValueKind, kind)
	}
}

func TestEventType_UnmarshalRejectsUnknown(t *testing.T) {
	var ev Event
	err := json.Unmarshal([]byte(`{"type":"renamed","seq":1}`), &ev)
	assert.Error(t, err)

	require.NoError(t, json.Unmarshal([]byte(`{"type":"bookmark","seq":4}`), &ev))
	assert.True(t, ev.IsBookmark())
	assert.Equal(t, Seq(4), ev.Seq)
}

func TestRowEvent_MarshalJSON(t *testing.T) {
	tests := []struct {
		name string
		ev   RowEvent
		want string
	}{
		{
			name: "entity zero keeps its id",
			ev:   RowEvent{Type: EventAdded, Seq: 6, EntityID: IDEntityID, Row: EntityRow{EntityRef(0)}},
			want: `{"type":"added","seq":6,"entityId":0,"row":{"values":[{"entityRef":0}]}}`,
		},
		{
			name: "empty projection",
			ev:   RowEvent{Type: EventRemoved, Seq: 9, EntityID: 7, Row: EntityRow{}},
			want: `{"type":"removed","seq":9,"entityId":7,"row":{"values":[]}}`,
		},
		{
			name: "bookmark",
			ev:   RowEvent{Type: EventBookmark, Seq: 12},
			want: `{"type":"bookmark","seq":12}`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := json.Marshal(tt.ev)
			require.NoError(t, err)
			assert.JSONEq(t, tt.want, string(data))

			var back RowEvent
			require.NoError(t, json.Unmarshal(data, &back))
			assert.Equal(t, tt.ev.EntityID, back.EntityID)
			assert.Equal(t, tt.ev.Type, back.Type)
		})
	}
}
