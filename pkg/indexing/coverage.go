package indexing

import (
	"reflect"
	"sort"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/adfharrison1/docbind/pkg/domain"
)

// Covers reports whether the live index descriptor satisfies a declared
// spec. Every declared key must appear in the live key pattern with an equal
// direction, in any order, and every option the spec sets must match the
// live descriptor, recursing into nested documents. Keys and options the
// live index carries beyond the spec are ignored.
func Covers(spec domain.IndexSpec, live bson.D) bool {
	rawKey, ok := domain.Lookup(live, "key")
	if !ok || len(spec.Keys) == 0 {
		return false
	}
	liveKeys, ok := asMap(rawKey)
	if !ok {
		return false
	}
	for _, e := range spec.Keys {
		liveValue, present := liveKeys[e.Key]
		if !present || !valuesEqual(e.Value, liveValue) {
			return false
		}
	}

	for _, e := range spec.Descriptor() {
		if e.Key == "key" {
			continue
		}
		liveValue, _ := domain.Lookup(live, e.Key)
		if !subsetMatch(e.Value, liveValue) {
			return false
		}
	}
	return true
}

// Satisfies reports whether the live index is the declared one: the key
// patterns are identical, order included, and the declared options are
// covered. A wider live index may cover a spec without satisfying it.
func Satisfies(spec domain.IndexSpec, live bson.D) bool {
	rawKey, ok := domain.Lookup(live, "key")
	if !ok {
		return false
	}
	liveKeys := asD(rawKey)
	if len(liveKeys) != len(spec.Keys) {
		return false
	}
	for i, e := range spec.Keys {
		if liveKeys[i].Key != e.Key || !valuesEqual(e.Value, liveKeys[i].Value) {
			return false
		}
	}
	return Covers(spec, live)
}

func subsetMatch(partial, whole interface{}) bool {
	if p, ok := asMap(partial); ok {
		w, ok := asMap(whole)
		if !ok {
			return false
		}
		for k, pv := range p {
			if !subsetMatch(pv, w[k]) {
				return false
			}
		}
		return true
	}
	if p, ok := partial.(bson.A); ok {
		w, ok := whole.(bson.A)
		if !ok || len(w) < len(p) {
			return false
		}
		for i := range p {
			if !subsetMatch(p[i], w[i]) {
				return false
			}
		}
		return true
	}
	return valuesEqual(partial, whole)
}

func valuesEqual(a, b interface{}) bool {
	return reflect.DeepEqual(normalizeNumber(a), normalizeNumber(b))
}

// normalizeNumber maps every numeric type to float64 so 1, int32(1) and 1.0
// compare equal.
func normalizeNumber(v interface{}) interface{} {
	switch n := v.(type) {
	case int:
		return float64(n)
	case int8:
		return float64(n)
	case int16:
		return float64(n)
	case int32:
		return float64(n)
	case int64:
		return float64(n)
	case uint:
		return float64(n)
	case uint8:
		return float64(n)
	case uint16:
		return float64(n)
	case uint32:
		return float64(n)
	case uint64:
		return float64(n)
	case float32:
		return float64(n)
	}
	return v
}

func asMap(v interface{}) (map[string]interface{}, bool) {
	switch d := v.(type) {
	case bson.M:
		return d, true
	case map[string]interface{}:
		return d, true
	case bson.D:
		m := make(map[string]interface{}, len(d))
		for _, e := range d {
			m[e.Key] = e.Value
		}
		return m, true
	}
	return nil, false
}

// asD returns an ordered key pattern. Unordered maps are sorted by field
// name, which is only faithful for single-field patterns.
func asD(v interface{}) bson.D {
	switch d := v.(type) {
	case bson.D:
		return d
	case bson.M:
		return sortedD(d)
	case map[string]interface{}:
		return sortedD(d)
	}
	return nil
}

func sortedD(m map[string]interface{}) bson.D {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	d := make(bson.D, len(keys))
	for i, k := range keys {
		d[i] = bson.E{Key: k, Value: m[k]}
	}
	return d
}
