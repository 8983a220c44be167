// Package ir provides the domain types shared by every attrstore package.
//
// This package contains type definitions and their encodings only. All
// other internal packages import ir; ir imports nothing internal.
//
// Key design constraints:
//   - AttributeValue, EntityLocator and EntityQueryNode are sealed
//     interfaces; consumers dispatch with exhaustive type switches
//   - Entities are immutable once published; mutation produces a new value
//   - Ordering uses the global sequence (Seq), never wall-clock time
//   - Attribute-type symbols are validated at the edge
//   - All JSON tags use camelCase to match the wire contract
package ir
