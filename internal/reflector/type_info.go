// Package reflector derives stable message type names from Go types.
package reflector

import (
	"reflect"
	"sync"
)

// names are cached per element type; the set of message types in a program is small.
var names sync.Map // reflect.Type -> string

// NameOf returns "pkg/path.TypeName" for the dynamic type of x. Pointers
// resolve to their element type so T and *T share one name.
func NameOf(x any) string {
	return NameForType(reflect.TypeOf(x))
}

// NameFor is NameOf for a type parameter.
func NameFor[T any]() string {
	return NameForType(reflect.TypeFor[T]())
}

func NameForType(t reflect.Type) string {
	if t == nil {
		return ""
	}
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if n, ok := names.Load(t); ok {
		return n.(string)
	}
	n := t.String()
	if t.PkgPath() != "" && t.Name() != "" {
		n = t.PkgPath() + "." + t.Name()
	}
	names.Store(t, n)
	return n
}
