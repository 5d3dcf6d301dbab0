package config

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"gopkg.in/yaml.v3"

	"github.com/adfharrison1/docbind/pkg/collection"
	"github.com/adfharrison1/docbind/pkg/domain"
	"github.com/adfharrison1/docbind/pkg/indexing"
	"github.com/adfharrison1/docbind/pkg/mongodriver"
	"github.com/adfharrison1/docbind/pkg/schema"
	"github.com/adfharrison1/docbind/pkg/storage"
)

// Config is the YAML declaration of a deployment: where to connect and which
// entity types to bind.
type Config struct {
	URI               string        `yaml:"uri"`
	ScratchCollection string        `yaml:"scratchCollection"`
	LookupWait        time.Duration `yaml:"lookupWait"`
	// SnapshotFile persists the embedded engine when URI uses memdb://.
	SnapshotFile string   `yaml:"snapshotFile"`
	Entities     []Entity `yaml:"entities"`
}

// Entity declares one collection binding.
type Entity struct {
	Name string `yaml:"name"`
	// Schema is the path of a JSON Schema file, relative to the config file.
	Schema  string  `yaml:"schema"`
	Indexes []Index `yaml:"indexes"`
}

// Index declares one index. Keys keep the order they are written in.
type Index struct {
	Keys                    KeyPattern `yaml:"keys"`
	Name                    string     `yaml:"name"`
	Unique                  bool       `yaml:"unique"`
	Sparse                  bool       `yaml:"sparse"`
	ExpireAfterSeconds      *int32     `yaml:"expireAfterSeconds"`
	PartialFilterExpression bson.M     `yaml:"partialFilterExpression"`
	Collation               *Collation `yaml:"collation"`
}

type Collation struct {
	Locale   string `yaml:"locale"`
	Strength int    `yaml:"strength"`
}

// KeyPattern is an ordered index key pattern read from a YAML mapping.
type KeyPattern bson.D

func (k *KeyPattern) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: index keys must be a mapping", node.Line)
	}
	keys := make(KeyPattern, 0, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		var value interface{}
		if err := node.Content[i+1].Decode(&value); err != nil {
			return err
		}
		keys = append(keys, bson.E{Key: node.Content[i].Value, Value: value})
	}
	*k = keys
	return nil
}

// Load reads and validates the config file at path. Schema paths are
// resolved against the file's directory.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	dir := filepath.Dir(path)
	for i := range cfg.Entities {
		if s := cfg.Entities[i].Schema; s != "" && !filepath.IsAbs(s) {
			cfg.Entities[i].Schema = filepath.Join(dir, s)
		}
	}
	if cfg.SnapshotFile != "" && !filepath.IsAbs(cfg.SnapshotFile) {
		cfg.SnapshotFile = filepath.Join(dir, cfg.SnapshotFile)
	}
	return cfg, nil
}

// Parse decodes and validates a YAML config. Unknown fields are rejected.
func Parse(data []byte) (*Config, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	var cfg Config
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the declaration without touching the database.
func (c *Config) Validate() error {
	var errs []error
	if c.URI == "" {
		errs = append(errs, errors.New("uri is required"))
	}
	if c.LookupWait < 0 {
		errs = append(errs, errors.New("lookupWait must not be negative"))
	}
	seen := make(map[string]bool, len(c.Entities))
	for i, e := range c.Entities {
		if e.Name == "" {
			errs = append(errs, fmt.Errorf("entities[%d]: name is required", i))
			continue
		}
		if seen[e.Name] {
			errs = append(errs, fmt.Errorf("entities[%d]: %s is declared twice", i, e.Name))
		}
		seen[e.Name] = true
		if err := indexing.ValidateSpecs(e.IndexSpecs()); err != nil {
			errs = append(errs, fmt.Errorf("entities[%d] %s: %w", i, e.Name, err))
		}
	}
	return errors.Join(errs...)
}

// IndexSpecs returns the entity's indexes as domain specs.
func (e Entity) IndexSpecs() []domain.IndexSpec {
	specs := make([]domain.IndexSpec, len(e.Indexes))
	for i, idx := range e.Indexes {
		spec := domain.IndexSpec{
			Keys: bson.D(idx.Keys),
			Options: domain.IndexOptions{
				Name:                    idx.Name,
				Unique:                  idx.Unique,
				Sparse:                  idx.Sparse,
				ExpireAfterSeconds:      idx.ExpireAfterSeconds,
				PartialFilterExpression: idx.PartialFilterExpression,
			},
		}
		if idx.Collation != nil {
			spec.Options.Collation = &domain.Collation{Locale: idx.Collation.Locale, Strength: idx.Collation.Strength}
		}
		specs[i] = spec
	}
	return specs
}

// Dialer returns the driver that serves the configured URI.
func (c *Config) Dialer(logger *log.Logger) (domain.Dialer, error) {
	switch {
	case strings.HasPrefix(c.URI, storage.Scheme+"://"):
		options := []storage.EngineOption{storage.WithLogger(logger)}
		if c.SnapshotFile != "" {
			options = append(options, storage.WithSnapshotFile(c.SnapshotFile))
		}
		return storage.NewEngine(options...), nil
	case strings.HasPrefix(c.URI, "mongodb://"), strings.HasPrefix(c.URI, "mongodb+srv://"):
		return mongodriver.NewDialer(mongodriver.WithAppName("docbind")), nil
	}
	return nil, fmt.Errorf("unsupported uri scheme in %q", c.URI)
}

// Bind declares every entity on lifecycle and returns the bindings by name.
func (c *Config) Bind(ctx context.Context, lifecycle collection.Lifecycle, logger *log.Logger) (map[string]*collection.Binding, error) {
	bindings := make(map[string]*collection.Binding, len(c.Entities))
	closeAll := func() {
		for _, b := range bindings {
			b.Close()
		}
	}

	for _, e := range c.Entities {
		var s domain.Schema
		if e.Schema != "" {
			loaded, err := schema.Load(e.Schema)
			if err != nil {
				closeAll()
				return nil, fmt.Errorf("entity %s: %w", e.Name, err)
			}
			s = loaded
		}

		b, err := collection.New(ctx, lifecycle, e.Name, collection.Config{
			Schema:            s,
			Indexes:           e.IndexSpecs(),
			ScratchCollection: c.ScratchCollection,
			BatchWait:         c.LookupWait,
			Logger:            logger,
		})
		if err != nil {
			closeAll()
			return nil, fmt.Errorf("entity %s: %w", e.Name, err)
		}
		bindings[e.Name] = b
	}
	return bindings, nil
}
