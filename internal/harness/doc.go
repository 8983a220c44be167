// Package harness runs scripted scenarios against a store and checks the
// outcome of each step, the events delivered to its watches, and the final
// state.
//
// # Scenario Format
//
// Scenarios are YAML files:
//
//	name: person_lifecycle
//	description: "Create, update and delete an entity under a watch"
//	journal: true
//	steps:
//	  - op: create_attribute_type
//	    symbol: name
//	    kind: text
//	  - op: watch
//	    watch: people
//	    query: { hasAttributeTypes: { attributeTypes: [name] } }
//	    initial: true
//	  - op: update
//	    locator: symbol:alice
//	    create: true
//	    set: { name: { text: Alice } }
//	    expect: { id: 7 }
//	  - op: delete
//	    locator: symbol:alice
//	assertions:
//	  - type: entity_absent
//	    locator: symbol:alice
//	  - type: watch_converges
//	    watch: people
//
// Steps are create_attribute_type, update, delete, get, query, watch,
// close_watch and compact. A watch step with attribute_types opens a row
// watch. Step expectations are optional; a step without one must succeed.
//
// Assertions are entity_state, entity_absent, query_count, event_count and
// watch_converges.
//
// # Traces
//
// Run records one trace entry per step, followed by every event the step
// caused on each open watch, in the order the watches were opened. The
// harness waits for each watch to bookmark the store head before moving
// on, so traces are deterministic and can be compared with golden files.
//
// With journal: true the store runs over an in-memory SQLite journal, and
// after the last step the harness replays the journal into a second store
// and compares both with the live state.
package harness
