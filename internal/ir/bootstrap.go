package ir

// BootstrapEntityCount is the number of entities every store starts with.
const BootstrapEntityCount = 6

// Ids of the bootstrap entities.
const (
	IDEntityID       EntityID = 0
	IDSymbolName     EntityID = 1
	IDValueType      EntityID = 2
	IDValueTypeText  EntityID = 3
	IDValueTypeRef   EntityID = 4
	IDValueTypeBytes EntityID = 5
)

// BootstrapAttributes returns the attribute sets of the six bootstrap
// entities, indexed by id. The marker entities 3..5 name the value kinds and
// carry only @symbolName.
func BootstrapAttributes() []Attributes {
	return []Attributes{
		IDEntityID: {
			SymbolSymbolName: Text(SymbolEntityID),
			SymbolValueType:  EntityRef(IDValueTypeRef),
		},
		IDSymbolName: {
			SymbolSymbolName: Text(SymbolSymbolName),
			SymbolValueType:  EntityRef(IDValueTypeText),
		},
		IDValueType: {
			SymbolSymbolName: Text(SymbolValueType),
			SymbolValueType:  EntityRef(IDValueTypeRef),
		},
		IDValueTypeText:  {SymbolSymbolName: Text(SymbolValueTypeText)},
		IDValueTypeRef:   {SymbolSymbolName: Text(SymbolValueTypeRef)},
		IDValueTypeBytes: {SymbolSymbolName: Text(SymbolValueTypeBytes)},
	}
}

// IsBootstrap reports whether id belongs to a bootstrap entity.
func IsBootstrap(id EntityID) bool {
	return id >= 0 && id < BootstrapEntityCount
}

// KindMarker returns the id of the marker entity for a value kind.
func KindMarker(k ValueKind) (EntityID, bool) {
	switch k {
	case KindText:
		return IDValueTypeText, true
	case KindEntityRef:
		return IDValueTypeRef, true
	case KindBytes:
		return IDValueTypeBytes, true
	default:
		return 0, false
	}
}

// KindForMarker maps a marker entity id back to its value kind.
func KindForMarker(id EntityID) (ValueKind, bool) {
	switch id {
	case IDValueTypeText:
		return KindText, true
	case IDValueTypeRef:
		return KindEntityRef, true
	case IDValueTypeBytes:
		return KindBytes, true
	default:
		return KindInvalid, false
	}
}

// BootstrapTypes returns the attribute types declared by bootstrap.
func BootstrapTypes() []AttributeType {
	return []AttributeType{
		{Symbol: SymbolEntityID, ValueKind: KindEntityRef},
		{Symbol: SymbolSymbolName, ValueKind: KindText},
		{Symbol: SymbolValueType, ValueKind: KindEntityRef},
	}
}
