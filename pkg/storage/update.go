package storage

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
)

// ErrImmutableID is returned when an update would change a document's _id.
var ErrImmutableID = errors.New("performing an update on the path '_id' would modify the immutable field '_id'")

// isReplacement reports whether update is a whole-document replacement
// rather than an operator document.
func isReplacement(update bson.M) bool {
	for k := range update {
		if strings.HasPrefix(k, "$") {
			return false
		}
	}
	return true
}

// applyUpdate applies the operators of update to a copy of doc. inserting is
// set when the document is being created by an upsert, which enables
// $setOnInsert.
func applyUpdate(doc bson.M, update bson.M, inserting bool) (bson.M, error) {
	if len(update) == 0 {
		return nil, errors.New("update document must not be empty")
	}
	if isReplacement(update) {
		return nil, errors.New("update document requires atomic operators")
	}

	out, err := normalize(doc)
	if err != nil {
		return nil, err
	}
	originalID, hadID := out["_id"]

	for op, arg := range update {
		fields, ok := asDoc(arg)
		if !ok {
			return nil, fmt.Errorf("modifier %s requires a document argument", op)
		}
		for path, value := range fields {
			var err error
			switch op {
			case "$set":
				err = setPath(out, path, value)
			case "$setOnInsert":
				if inserting {
					err = setPath(out, path, value)
				}
			case "$unset":
				unsetPath(out, path)
			case "$inc":
				err = incPath(out, path, value)
			case "$push":
				err = pushPath(out, path, value, false)
			case "$addToSet":
				err = pushPath(out, path, value, true)
			case "$pull":
				err = pullPath(out, path, value)
			default:
				err = fmt.Errorf("unknown modifier: %s", op)
			}
			if err != nil {
				return nil, err
			}
		}
	}

	if hadID {
		if id, ok := out["_id"]; !ok || !ValuesMatch(id, originalID) {
			return nil, ErrImmutableID
		}
	}

	return normalize(out)
}

// parent walks to the container holding the last path segment, creating
// intermediate documents as needed.
func parent(doc bson.M, path string, create bool) (interface{}, string, error) {
	parts := strings.Split(path, ".")
	var current interface{} = doc
	for _, part := range parts[:len(parts)-1] {
		switch c := current.(type) {
		case bson.M:
			next, exists := c[part]
			if !exists || next == nil {
				if !create {
					return nil, "", nil
				}
				next = bson.M{}
				c[part] = next
			}
			if d, ok := next.(bson.D); ok {
				next = d.Map()
				c[part] = next
			}
			current = next
		case bson.A:
			i, err := strconv.Atoi(part)
			if err != nil || i < 0 || i >= len(c) {
				return nil, "", fmt.Errorf("cannot traverse array element %q of path %q", part, path)
			}
			current = c[i]
		default:
			return nil, "", fmt.Errorf("cannot create field %q in element of path %q", part, path)
		}
	}
	return current, parts[len(parts)-1], nil
}

func setPath(doc bson.M, path string, value interface{}) error {
	container, last, err := parent(doc, path, true)
	if err != nil {
		return err
	}
	switch c := container.(type) {
	case bson.M:
		c[last] = value
		return nil
	case bson.A:
		i, err := strconv.Atoi(last)
		if err != nil || i < 0 {
			return fmt.Errorf("cannot set field %q in array of path %q", last, path)
		}
		for len(c) <= i {
			c = append(c, nil)
		}
		c[i] = value
		return replaceArray(doc, path, c)
	}
	return fmt.Errorf("cannot set path %q", path)
}

// replaceArray stores a grown array back into its parent.
func replaceArray(doc bson.M, path string, arr bson.A) error {
	arrayPath := path[:strings.LastIndex(path, ".")]
	return setPath(doc, arrayPath, arr)
}

func unsetPath(doc bson.M, path string) {
	container, last, err := parent(doc, path, false)
	if err != nil || container == nil {
		return
	}
	switch c := container.(type) {
	case bson.M:
		delete(c, last)
	case bson.A:
		if i, err := strconv.Atoi(last); err == nil && i >= 0 && i < len(c) {
			c[i] = nil
		}
	}
}

func getPath(doc bson.M, path string) (interface{}, bool) {
	container, last, err := parent(doc, path, false)
	if err != nil || container == nil {
		return nil, false
	}
	switch c := container.(type) {
	case bson.M:
		v, ok := c[last]
		return v, ok
	case bson.A:
		if i, err := strconv.Atoi(last); err == nil && i >= 0 && i < len(c) {
			return c[i], true
		}
	}
	return nil, false
}

func incPath(doc bson.M, path string, delta interface{}) error {
	d, ok := ToFloat64(delta)
	if !ok {
		return fmt.Errorf("cannot increment with non-numeric argument for field %q", path)
	}
	current, exists := getPath(doc, path)
	if !exists || current == nil {
		return setPath(doc, path, delta)
	}
	c, ok := ToFloat64(current)
	if !ok {
		return fmt.Errorf("cannot apply $inc to a value of non-numeric type for field %q", path)
	}
	if isIntegral(current) && isIntegral(delta) {
		return setPath(doc, path, int64(c)+int64(d))
	}
	return setPath(doc, path, c+d)
}

func pushPath(doc bson.M, path string, value interface{}, unique bool) error {
	items := []interface{}{value}
	if mod, ok := asDoc(value); ok {
		if each, ok := mod["$each"]; ok {
			items = asList(each)
		}
	}
	current, exists := getPath(doc, path)
	var arr bson.A
	if exists && current != nil {
		existing, ok := asArray(current)
		if !ok {
			return fmt.Errorf("the field %q must be an array", path)
		}
		arr = append(bson.A{}, existing...)
	}
	for _, item := range items {
		if unique && containsValue(arr, item) {
			continue
		}
		arr = append(arr, item)
	}
	return setPath(doc, path, arr)
}

func pullPath(doc bson.M, path string, cond interface{}) error {
	current, exists := getPath(doc, path)
	if !exists || current == nil {
		return nil
	}
	arr, ok := asArray(current)
	if !ok {
		return fmt.Errorf("cannot apply $pull to a non-array value for field %q", path)
	}
	kept := bson.A{}
	for _, elem := range arr {
		if pullMatches(elem, cond) {
			continue
		}
		kept = append(kept, elem)
	}
	return setPath(doc, path, kept)
}

func pullMatches(elem, cond interface{}) bool {
	if ops, ok := asDoc(cond); ok && isOperatorDoc(ops) {
		for op, arg := range ops {
			if !matchOperator([]interface{}{elem}, op, arg) {
				return false
			}
		}
		return true
	}
	return ValuesMatch(elem, cond)
}

func containsValue(arr []interface{}, v interface{}) bool {
	for _, elem := range arr {
		if ValuesMatch(elem, v) {
			return true
		}
	}
	return false
}

// upsertSeed builds the document an upsert starts from: the equality
// conditions of the filter.
func upsertSeed(filter bson.M) bson.M {
	seed := bson.M{}
	for k, v := range filter {
		if strings.HasPrefix(k, "$") || strings.Contains(k, ".") {
			continue
		}
		if ops, ok := asDoc(v); ok && isOperatorDoc(ops) {
			if eq, ok := ops["$eq"]; ok {
				seed[k] = eq
			}
			continue
		}
		seed[k] = v
	}
	return seed
}
