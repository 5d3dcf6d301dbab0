package storage

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/gofrs/flock"
	"github.com/natefinch/atomic"
	"github.com/pierrec/lz4/v4"
	"github.com/vmihailenco/msgpack/v5"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/adfharrison1/docbind/pkg/domain"
)

// snapshot captures every collection that exists.
func (e *Engine) snapshot() (*Snapshot, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	snap := NewSnapshot()
	for dbName, colls := range e.databases {
		for collName, coll := range colls {
			coll.mu.RLock()
			cs, err := snapshotCollection(coll)
			coll.mu.RUnlock()
			if err != nil {
				return nil, fmt.Errorf("failed to snapshot collection %s.%s: %w", dbName, collName, err)
			}
			if cs == nil {
				continue
			}
			if snap.Databases[dbName] == nil {
				snap.Databases[dbName] = make(map[string]*CollectionSnapshot)
			}
			snap.Databases[dbName][collName] = cs
		}
	}
	return snap, nil
}

func snapshotCollection(coll *collection) (*CollectionSnapshot, error) {
	if !coll.created {
		return nil, nil
	}
	cs := &CollectionSnapshot{}
	for _, doc := range coll.documents() {
		raw, err := bson.Marshal(doc)
		if err != nil {
			return nil, err
		}
		cs.Documents = append(cs.Documents, raw)
	}
	for _, idx := range coll.indexes {
		if idx.name == idIndexName {
			continue
		}
		raw, err := bson.Marshal(idx.descriptor())
		if err != nil {
			return nil, err
		}
		cs.Indexes = append(cs.Indexes, raw)
	}
	return cs, nil
}

// SaveToFile writes every collection to filename. The file is replaced
// atomically while holding an exclusive lock on filename+".lock".
func (e *Engine) SaveToFile(filename string) error {
	start := time.Now()
	snap, err := e.snapshot()
	if err != nil {
		return err
	}

	msgpackData, err := msgpack.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to encode MessagePack: %w", err)
	}

	var buf bytes.Buffer
	if err := WriteHeader(&buf, FlagCompressed); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}
	zw := lz4.NewWriter(&buf)
	if _, err := zw.Write(msgpackData); err != nil {
		return fmt.Errorf("failed to compress data: %w", err)
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("failed to compress data: %w", err)
	}

	lock := flock.New(filename + ".lock")
	if err := lock.Lock(); err != nil {
		return fmt.Errorf("failed to lock %s: %w", filename, err)
	}
	defer lock.Unlock()

	size := buf.Len()
	if err := atomic.WriteFile(filename, &buf); err != nil {
		return fmt.Errorf("failed to write snapshot: %w", err)
	}

	e.logger.Printf("INFO: Saved snapshot to %s (%d bytes compressed) in %v", filename, size, time.Since(start))
	return nil
}

// LoadFromFile replaces the engine's contents with the snapshot stored in
// filename. A missing file leaves the engine empty.
func (e *Engine) LoadFromFile(filename string) error {
	lock := flock.New(filename + ".lock")
	if err := lock.RLock(); err != nil {
		return fmt.Errorf("failed to lock %s: %w", filename, err)
	}
	defer lock.Unlock()

	file, err := os.Open(filename)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	header, err := ReadHeader(file)
	if err != nil {
		return fmt.Errorf("invalid file header: %w", err)
	}

	var body io.Reader = file
	if header.Flags&FlagCompressed != 0 {
		body = lz4.NewReader(file)
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return fmt.Errorf("failed to decompress data: %w", err)
	}

	snap := NewSnapshot()
	if err := msgpack.Unmarshal(data, snap); err != nil {
		return fmt.Errorf("failed to decode MessagePack: %w", err)
	}

	databases := make(map[string]map[string]*collection)
	docCount := 0
	for dbName, colls := range snap.Databases {
		databases[dbName] = make(map[string]*collection)
		for collName, cs := range colls {
			coll, err := restoreCollection(collName, cs)
			if err != nil {
				return fmt.Errorf("failed to restore collection %s.%s: %w", dbName, collName, err)
			}
			databases[dbName][collName] = coll
			docCount += len(coll.order)
		}
	}

	e.mu.Lock()
	e.databases = databases
	e.mu.Unlock()

	e.logger.Printf("INFO: Loaded snapshot from %s with %d documents", filename, docCount)
	return nil
}

func restoreCollection(name string, cs *CollectionSnapshot) (*collection, error) {
	coll := newCollection(name)
	coll.created = true
	for _, raw := range cs.Indexes {
		var d bson.D
		if err := bson.Unmarshal(raw, &d); err != nil {
			return nil, err
		}
		spec, err := SpecFromDescriptor(d)
		if err != nil {
			return nil, err
		}
		background, _ := domain.Lookup(d, "background")
		coll.indexes = append(coll.indexes, newIndex(spec, truthy(background)))
	}
	for _, raw := range cs.Documents {
		var doc bson.M
		if err := bson.Unmarshal(raw, &doc); err != nil {
			return nil, err
		}
		if _, err := coll.insert(doc); err != nil {
			return nil, err
		}
	}
	return coll, nil
}
