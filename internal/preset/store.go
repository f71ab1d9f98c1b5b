package preset

import (
	"context"
	"path/filepath"

	"modbot/internal/apperr"
	"modbot/internal/docstore"
	"modbot/internal/lockfile"

	"go.uber.org/zap"
)

type Namespace string

const (
	Info Namespace = "info"
	Data Namespace = "data"
)

type SearchBy int

const (
	ByName SearchBy = iota
	ByUUID
)

// Store is the preset collection of one command in one namespace. Every
// call loads the file under its lock, mutates a fresh copy and writes it
// back, so nothing is cached between calls.
type Store struct {
	command   string
	namespace Namespace
	file      *docstore.File[*Collection]
	logger    *zap.Logger
}

func NewStore(baseDir string, namespace Namespace, command string, locker *lockfile.Locker, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	path := FilePath(baseDir, namespace, command)
	return &Store{
		command:   command,
		namespace: namespace,
		file:      docstore.New[*Collection](path, locker, collectionCodec{}),
		logger:    logger.With(zap.String("command", command), zap.String("namespace", string(namespace))),
	}
}

func FilePath(baseDir string, namespace Namespace, command string) string {
	return filepath.Join(baseDir, string(namespace), command+".json")
}

func (s *Store) Command() string {
	return s.command
}

func (s *Store) Path() string {
	return s.file.Path()
}

func (s *Store) Load(ctx context.Context) (*Collection, error) {
	var out *Collection
	err := s.file.View(ctx, func(c *Collection) error {
		out = c
		return nil
	})
	return out, err
}

// New stores data under its content hash.
func (s *Store) New(ctx context.Context, name string, data map[string]any) (Preset, error) {
	uuid, err := Hash(data)
	if err != nil {
		return Preset{}, err
	}
	return s.Create(ctx, uuid, name, data)
}

// Create stores data under an explicit key. Data bowls use it to share the
// key of their preset.
func (s *Store) Create(ctx context.Context, uuid, name string, data map[string]any) (Preset, error) {
	if data == nil {
		data = map[string]any{}
	}
	created := Preset{UUID: uuid, Name: name, Data: cloneData(data)}
	err := s.file.Update(ctx, func(c *Collection) (*Collection, error) {
		if _, taken := c.ByName(name); taken {
			return nil, apperr.Userf(apperr.AlreadyExists, "The preset **%s** already exists!", name)
		}
		if existing, taken := c.ByUUID(uuid); taken {
			return nil, apperr.Userf(apperr.AlreadyExists, "An identical preset is already stored as **%s**!", existing.Name)
		}
		c.put(created)
		return c, nil
	})
	if err != nil {
		return Preset{}, err
	}
	s.logger.Debug("preset created", zap.String("name", name), zap.String("uuid", uuid))
	return created, nil
}

func (s *Store) Get(ctx context.Context, identifier string, by SearchBy) (Preset, error) {
	var out Preset
	err := s.file.View(ctx, func(c *Collection) error {
		found, err := lookup(c, identifier, by)
		out = found
		return err
	})
	return out, err
}

func (s *Store) List(ctx context.Context) ([]Entry, error) {
	var out []Entry
	err := s.file.View(ctx, func(c *Collection) error {
		out = c.Entries()
		return nil
	})
	return out, err
}

// Rename changes the name of a preset; its key stays the same.
func (s *Store) Rename(ctx context.Context, name, newName string) error {
	return s.mutate(ctx, name, func(c *Collection, p *Preset) error {
		if newName == name {
			return nil
		}
		if _, taken := c.ByName(newName); taken {
			return apperr.Userf(apperr.AlreadyExists, "The preset **%s** already exists!", newName)
		}
		p.Name = newName
		return nil
	})
}

// Put adds a property to the preset data and never overwrites.
func (s *Store) Put(ctx context.Context, name string, value any, property string) error {
	return s.mutate(ctx, name, func(_ *Collection, p *Preset) error {
		if _, ok := p.Data[property]; ok {
			return apperr.Newf(apperr.Internal, apperr.AlreadyExists, "Property %s already exists!", property)
		}
		p.Data[property] = value
		return nil
	})
}

// Set overwrites a property of the preset data and never creates one.
func (s *Store) Set(ctx context.Context, name string, value any, property string) error {
	return s.mutate(ctx, name, func(_ *Collection, p *Preset) error {
		if _, ok := p.Data[property]; !ok {
			return apperr.Newf(apperr.Internal, apperr.NotFound, "Property %s was never put on %s!", property, name)
		}
		p.Data[property] = value
		return nil
	})
}

func (s *Store) SetAllData(ctx context.Context, name string, data map[string]any) error {
	return s.mutate(ctx, name, func(_ *Collection, p *Preset) error {
		p.Data = cloneData(data)
		return nil
	})
}

// Update runs fn on the preset data inside a single lock hold.
func (s *Store) Update(ctx context.Context, name string, fn func(data map[string]any) error) error {
	return s.mutate(ctx, name, func(_ *Collection, p *Preset) error {
		return fn(p.Data)
	})
}

// UpdateByUUID is Update for callers that only know the key.
func (s *Store) UpdateByUUID(ctx context.Context, uuid string, fn func(data map[string]any) error) error {
	return s.mutateBy(ctx, uuid, ByUUID, func(_ *Collection, p *Preset) error {
		return fn(p.Data)
	})
}

func (s *Store) Remove(ctx context.Context, name string) error {
	err := s.file.Update(ctx, func(c *Collection) (*Collection, error) {
		found, err := lookup(c, name, ByName)
		if err != nil {
			return nil, err
		}
		c.remove(found.UUID)
		return c, nil
	})
	if err == nil {
		s.logger.Debug("preset removed", zap.String("name", name))
	}
	return err
}

// Ensure creates an empty collection file if there is none yet.
func (s *Store) Ensure(ctx context.Context) (bool, error) {
	return s.file.Ensure(ctx)
}

func (s *Store) mutate(ctx context.Context, name string, fn func(*Collection, *Preset) error) error {
	return s.mutateBy(ctx, name, ByName, fn)
}

func (s *Store) mutateBy(ctx context.Context, identifier string, by SearchBy, fn func(*Collection, *Preset) error) error {
	return s.file.Update(ctx, func(c *Collection) (*Collection, error) {
		found, err := lookup(c, identifier, by)
		if err != nil {
			return nil, err
		}
		if found.Data == nil {
			found.Data = map[string]any{}
		}
		if err := fn(c, &found); err != nil {
			return nil, err
		}
		c.put(found)
		return c, nil
	})
}

func lookup(c *Collection, identifier string, by SearchBy) (Preset, error) {
	var (
		found Preset
		ok    bool
	)
	switch by {
	case ByUUID:
		found, ok = c.ByUUID(identifier)
	default:
		found, ok = c.ByName(identifier)
	}
	if !ok {
		return Preset{}, apperr.Userf(apperr.NotFound, "The preset **%s** was not found!", identifier)
	}
	return found, nil
}
