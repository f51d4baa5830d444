package projection

import (
	"fmt"
	"reflect"

	"github.com/RoaringBitmap/roaring"
)

// index maps field → rendered value → set of interned aggregate ids.
type index map[string]map[string]*roaring.Bitmap

// interner assigns dense uint32 ids to aggregate ids so they fit in
// roaring bitmaps. Ids are never released.
type interner struct {
	ids   map[string]uint32
	names []string
}

func newInterner() *interner {
	return &interner{ids: make(map[string]uint32)}
}

func (in *interner) intern(name string) uint32 {
	if id, ok := in.ids[name]; ok {
		return id
	}
	id := uint32(len(in.names))
	in.ids[name] = id
	in.names = append(in.names, name)
	return id
}

func (in *interner) name(id uint32) (string, bool) {
	if int(id) >= len(in.names) {
		return "", false
	}
	return in.names[id], true
}

// renderValue turns an index or query value into its index key.
// Returns false for nil values, which are never indexed.
func renderValue(v any) (string, bool) {
	if v == nil {
		return "", false
	}
	switch x := v.(type) {
	case string:
		return x, true
	case fmt.Stringer:
		rv := reflect.ValueOf(v)
		if rv.Kind() == reflect.Pointer && rv.IsNil() {
			return "", false
		}
		return x.String(), true
	}

	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Pointer || rv.Kind() == reflect.Interface {
		if rv.IsNil() {
			return "", false
		}
		rv = rv.Elem()
	}
	return fmt.Sprint(rv.Interface()), true
}

func buildIndex[T any](defs []indexDef[T], items map[string]*T, in *interner) index {
	idx := make(index, len(defs))
	for _, d := range defs {
		idx[d.field] = make(map[string]*roaring.Bitmap)
	}
	for name, item := range items {
		id := in.intern(name)
		for _, d := range defs {
			key, ok := renderValue(d.value(item))
			if !ok {
				continue
			}
			bm, exists := idx[d.field][key]
			if !exists {
				bm = roaring.New()
				idx[d.field][key] = bm
			}
			bm.Add(id)
		}
	}
	return idx
}

// lookup intersects the id sets of every field/value pair. It returns nil
// as soon as one set is empty.
func (idx index) lookup(fields []string, values map[string]string) *roaring.Bitmap {
	var result *roaring.Bitmap
	for _, f := range fields {
		bm := idx[f][values[f]]
		if bm == nil || bm.IsEmpty() {
			return nil
		}
		if result == nil {
			result = bm.Clone()
			continue
		}
		result.And(bm)
		if result.IsEmpty() {
			return nil
		}
	}
	return result
}
