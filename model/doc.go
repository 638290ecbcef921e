// Package model defines the typed record model exchanged by every stage of
// the pipeline.
//
// # Values
//
// Value is a closed union: Null, Bool, Chars, Symbol, Digit, Float, Hex, Time,
// IPAddr, IPNet, Domain, URL, Email, IDCard, MobilePhone, Object, Array and
// Ignore. Every variant reports a stable Kind tag and an O(1) emptiness
// check. Semantic variants are built through validating constructors
// (NewEmail, ParseIPAddr, NewIPNet, ...) so malformed input fails at
// construction, never downstream.
//
// Code that branches on a value switches over Kind and panics in the default
// branch; the tests walk every kind through those switches so a new kind
// cannot be added without visiting them.
//
// # Declared Types
//
// DataType is the declared type of a field. ParseDataType accepts canonical
// names ("digit", "time_clf", "array/json"), documented aliases
// ("time/nginx", "json/strict") and rejects unknown names and a bare "array"
// with an error matching errors.ErrUnsupportedType.
//
// # Fields and Records
//
// A Field pairs a name, a DataType and a Value. NewField rejects a value the
// declared type does not accept. Fields are immutable values; copying one
// shares its name and data.
//
// A *Record is the exclusively owned, mutable form used while building or
// transforming an event. Share hands it off as a SharedRecord, a read-only
// view that many sinks can read concurrently. SharedRecord has no mutating
// methods; Clone returns a new *Record when a consumer needs to change it.
//
//	rec := model.NewRecord(model.FromDigit("age", 18))
//	rec.SetID(42)
//	shared := rec.Share()
//	for _, s := range sinks {
//	    s.SinkRecord(ctx, shared)
//	}
//
// # Tags
//
// Tags is a small key/value set kept sorted by key, with the same
// mutable/shared split as records.
package model
