package storage

import (
	"bytes"
	"fmt"
	"math"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// MatchesFilter checks if a document matches the given filter criteria
func MatchesFilter(doc bson.M, filter bson.M) bool {
	for key, cond := range filter {
		switch key {
		case "$and":
			for _, sub := range asList(cond) {
				subFilter, ok := asDoc(sub)
				if !ok || !MatchesFilter(doc, subFilter) {
					return false
				}
			}
		case "$or":
			matched := false
			for _, sub := range asList(cond) {
				if subFilter, ok := asDoc(sub); ok && MatchesFilter(doc, subFilter) {
					matched = true
					break
				}
			}
			if !matched {
				return false
			}
		case "$nor":
			for _, sub := range asList(cond) {
				if subFilter, ok := asDoc(sub); ok && MatchesFilter(doc, subFilter) {
					return false
				}
			}
		default:
			if !matchField(doc, key, cond) {
				return false
			}
		}
	}
	return true
}

func matchField(doc bson.M, path string, cond interface{}) bool {
	values := resolvePath(doc, path)
	if ops, ok := asDoc(cond); ok && isOperatorDoc(ops) {
		for op, arg := range ops {
			if !matchOperator(values, op, arg) {
				return false
			}
		}
		return true
	}
	return matchEquals(values, cond)
}

func matchOperator(values []interface{}, op string, arg interface{}) bool {
	switch op {
	case "$eq":
		return matchEquals(values, arg)
	case "$ne":
		return !matchEquals(values, arg)
	case "$in":
		for _, candidate := range asList(arg) {
			if matchEquals(values, candidate) {
				return true
			}
		}
		return false
	case "$nin":
		for _, candidate := range asList(arg) {
			if matchEquals(values, candidate) {
				return false
			}
		}
		return true
	case "$exists":
		return truthy(arg) == (len(values) > 0)
	case "$gt", "$gte", "$lt", "$lte":
		for _, v := range expand(values) {
			if typeRank(v) != typeRank(arg) {
				continue
			}
			c := CompareValues(v, arg)
			switch {
			case op == "$gt" && c > 0,
				op == "$gte" && c >= 0,
				op == "$lt" && c < 0,
				op == "$lte" && c <= 0:
				return true
			}
		}
		return false
	}
	return false
}

// matchEquals reports whether any resolved value equals expected, looking
// inside arrays the way the server does.
func matchEquals(values []interface{}, expected interface{}) bool {
	if expected == nil {
		if len(values) == 0 {
			return true
		}
		for _, v := range values {
			if v == nil {
				return true
			}
		}
		return false
	}
	for _, v := range values {
		if ValuesMatch(v, expected) {
			return true
		}
		if arr, ok := asArray(v); ok {
			for _, elem := range arr {
				if ValuesMatch(elem, expected) {
					return true
				}
			}
		}
	}
	return false
}

func expand(values []interface{}) []interface{} {
	var out []interface{}
	for _, v := range values {
		if arr, ok := asArray(v); ok {
			out = append(out, arr...)
			continue
		}
		out = append(out, v)
	}
	return out
}

func isOperatorDoc(m bson.M) bool {
	if len(m) == 0 {
		return false
	}
	for k := range m {
		if !strings.HasPrefix(k, "$") {
			return false
		}
	}
	return true
}

// resolvePath returns every value reachable through a dotted path. Array
// segments either index into the array or fan out over its documents.
func resolvePath(v interface{}, path string) []interface{} {
	current := []interface{}{v}
	for _, part := range strings.Split(path, ".") {
		var next []interface{}
		for _, c := range current {
			if doc, ok := asDoc(c); ok {
				if val, exists := doc[part]; exists {
					next = append(next, val)
				}
				continue
			}
			if arr, ok := asArray(c); ok {
				if i, err := strconv.Atoi(part); err == nil {
					if i >= 0 && i < len(arr) {
						next = append(next, arr[i])
					}
					continue
				}
				for _, elem := range arr {
					if doc, ok := asDoc(elem); ok {
						if val, exists := doc[part]; exists {
							next = append(next, val)
						}
					}
				}
			}
		}
		current = next
	}
	return current
}

// ValuesMatch compares two values for equality, handling different types
func ValuesMatch(actual, expected interface{}) bool {
	if actual == nil || expected == nil {
		return actual == nil && expected == nil
	}
	if typeRank(actual) != typeRank(expected) {
		return false
	}
	if a, ok := asDoc(actual); ok {
		b, _ := asDoc(expected)
		if len(a) != len(b) {
			return false
		}
		for k, av := range a {
			bv, exists := b[k]
			if !exists || !ValuesMatch(av, bv) {
				return false
			}
		}
		return true
	}
	if a, ok := asArray(actual); ok {
		b, _ := asArray(expected)
		if len(a) != len(b) {
			return false
		}
		for i := range a {
			if !ValuesMatch(a[i], b[i]) {
				return false
			}
		}
		return true
	}
	return CompareValues(actual, expected) == 0
}

// typeRank follows the server's cross-type comparison order.
func typeRank(v interface{}) int {
	if v == nil {
		return 1
	}
	if _, ok := ToFloat64(v); ok {
		return 2
	}
	switch v.(type) {
	case string:
		return 3
	case primitive.Binary, []byte:
		return 6
	case primitive.ObjectID:
		return 7
	case bool:
		return 8
	case time.Time, primitive.DateTime:
		return 9
	case primitive.Timestamp:
		return 10
	case primitive.Regex:
		return 11
	}
	if _, ok := asDoc(v); ok {
		return 4
	}
	if _, ok := asArray(v); ok {
		return 5
	}
	return 12
}

// CompareValues orders two values, first by type rank and then by value.
func CompareValues(a, b interface{}) int {
	ra, rb := typeRank(a), typeRank(b)
	if ra != rb {
		return compareInts(ra, rb)
	}
	switch ra {
	case 1:
		return 0
	case 2:
		fa, _ := ToFloat64(a)
		fb, _ := ToFloat64(b)
		switch {
		case fa < fb:
			return -1
		case fa > fb:
			return 1
		}
		return 0
	case 3:
		return strings.Compare(a.(string), b.(string))
	case 7:
		oa, ob := a.(primitive.ObjectID), b.(primitive.ObjectID)
		return bytes.Compare(oa[:], ob[:])
	case 8:
		ba, bb := a.(bool), b.(bool)
		switch {
		case ba == bb:
			return 0
		case !ba:
			return -1
		}
		return 1
	case 9:
		return toTime(a).Compare(toTime(b))
	case 4, 5:
		return strings.Compare(canonicalKey(a), canonicalKey(b))
	}
	return strings.Compare(fmt.Sprint(a), fmt.Sprint(b))
}

func compareInts(a, b int) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

// ToFloat64 converts various numeric types to float64 for comparison
func ToFloat64(value interface{}) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int8:
		return float64(v), true
	case int16:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case uint:
		return float64(v), true
	case uint8:
		return float64(v), true
	case uint16:
		return float64(v), true
	case uint32:
		return float64(v), true
	case uint64:
		return float64(v), true
	default:
		return 0, false
	}
}

func isIntegral(v interface{}) bool {
	switch v.(type) {
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return true
	}
	return false
}

func toTime(v interface{}) time.Time {
	switch t := v.(type) {
	case time.Time:
		return t
	case primitive.DateTime:
		return t.Time()
	}
	return time.Time{}
}

func truthy(v interface{}) bool {
	switch b := v.(type) {
	case bool:
		return b
	case nil:
		return false
	}
	if f, ok := ToFloat64(v); ok {
		return f != 0
	}
	return true
}

func asDoc(v interface{}) (bson.M, bool) {
	switch d := v.(type) {
	case bson.M:
		return d, true
	case map[string]interface{}:
		return bson.M(d), true
	case bson.D:
		return d.Map(), true
	}
	return nil, false
}

func asArray(v interface{}) ([]interface{}, bool) {
	switch a := v.(type) {
	case bson.A:
		return a, true
	case []interface{}:
		return a, true
	}
	return nil, false
}

// asList accepts any slice, including typed ones such as []ObjectID.
func asList(v interface{}) []interface{} {
	if arr, ok := asArray(v); ok {
		return arr
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil
	}
	out := make([]interface{}, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out
}

// canonicalKey renders a value so that equal values (across numeric types)
// render identically. It keys documents by _id and index entries by tuple.
func canonicalKey(v interface{}) string {
	if v == nil {
		return "null"
	}
	if f, ok := ToFloat64(v); ok {
		if f == math.Trunc(f) && math.Abs(f) < 1e15 {
			return "n:" + strconv.FormatInt(int64(f), 10)
		}
		return "n:" + strconv.FormatFloat(f, 'g', -1, 64)
	}
	switch t := v.(type) {
	case string:
		return "s:" + strconv.Quote(t)
	case primitive.ObjectID:
		return "o:" + t.Hex()
	case bool:
		return "b:" + strconv.FormatBool(t)
	case time.Time, primitive.DateTime:
		return "d:" + strconv.FormatInt(toTime(t).UnixMilli(), 10)
	}
	if doc, ok := asDoc(v); ok {
		keys := make([]string, 0, len(doc))
		for k := range doc {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, len(keys))
		for i, k := range keys {
			parts[i] = strconv.Quote(k) + ":" + canonicalKey(doc[k])
		}
		return "{" + strings.Join(parts, ",") + "}"
	}
	if arr, ok := asArray(v); ok {
		parts := make([]string, len(arr))
		for i, elem := range arr {
			parts[i] = canonicalKey(elem)
		}
		return "[" + strings.Join(parts, ",") + "]"
	}
	return fmt.Sprintf("%T:%v", v, v)
}

// normalize round-trips a document through BSON so stored values carry the
// same types the server would hand back, and so no caller-owned map or slice
// is retained.
func normalize(doc bson.M) (bson.M, error) {
	if doc == nil {
		return bson.M{}, nil
	}
	raw, err := bson.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to encode document: %w", err)
	}
	var out bson.M
	if err := bson.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("failed to decode document: %w", err)
	}
	return out, nil
}

func sortDocuments(docs []bson.M, spec bson.D) {
	if len(spec) == 0 {
		return
	}
	sort.SliceStable(docs, func(i, j int) bool {
		for _, e := range spec {
			a := firstValue(docs[i], e.Key)
			b := firstValue(docs[j], e.Key)
			c := CompareValues(a, b)
			if c == 0 {
				continue
			}
			if dir, _ := ToFloat64(e.Value); dir < 0 {
				return c > 0
			}
			return c < 0
		}
		return false
	})
}

func firstValue(doc bson.M, path string) interface{} {
	values := resolvePath(doc, path)
	if len(values) == 0 {
		return nil
	}
	return values[0]
}

// project applies an inclusion or exclusion projection on top-level fields.
func project(doc bson.M, projection bson.M) bson.M {
	if len(projection) == 0 {
		return doc
	}
	inclusive := false
	for k, v := range projection {
		if k != "_id" && truthy(v) {
			inclusive = true
			break
		}
	}
	out := bson.M{}
	if inclusive {
		for k, v := range projection {
			if truthy(v) {
				if val, ok := doc[k]; ok {
					out[k] = val
				}
			}
		}
		if v, ok := projection["_id"]; !ok || truthy(v) {
			if id, exists := doc["_id"]; exists {
				out["_id"] = id
			}
		}
		return out
	}
	for k, v := range doc {
		if p, ok := projection[k]; ok && !truthy(p) {
			continue
		}
		out[k] = v
	}
	return out
}
