package preset

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"modbot/internal/lockfile"

	"go.uber.org/zap"
)

// Handler keeps the configuration of a command's presets.
type Handler struct {
	*Store
}

func NewHandler(baseDir, command string, locker *lockfile.Locker, logger *zap.Logger) *Handler {
	return &Handler{Store: NewStore(baseDir, Info, command, locker, logger)}
}

// DataBowl keeps the runtime payload of a command's presets. Entries share
// the key of the preset they belong to.
type DataBowl struct {
	*Store
	presets *Handler
}

func NewDataBowl(baseDir, command string, presets *Handler, locker *lockfile.Locker, logger *zap.Logger) *DataBowl {
	return &DataBowl{Store: NewStore(baseDir, Data, command, locker, logger), presets: presets}
}

// New creates the bowl for the preset called name.
func (d *DataBowl) New(ctx context.Context, name string, data map[string]any) (Preset, error) {
	owner, err := d.presets.Get(ctx, name, ByName)
	if err != nil {
		return Preset{}, err
	}
	return d.Create(ctx, owner.UUID, owner.Name, data)
}

// EnsureDataExistence creates both namespace directories and an empty file
// for every command that has none.
func EnsureDataExistence(ctx context.Context, baseDir string, commands []string, locker *lockfile.Locker, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	for _, namespace := range []Namespace{Info, Data} {
		if err := os.MkdirAll(filepath.Join(baseDir, string(namespace)), 0o755); err != nil {
			return fmt.Errorf("create %s directory: %w", namespace, err)
		}
		for _, command := range commands {
			created, err := NewStore(baseDir, namespace, command, locker, logger).Ensure(ctx)
			if err != nil {
				return fmt.Errorf("ensure %s/%s: %w", namespace, command, err)
			}
			if created {
				logger.Info("preset file created", zap.String("namespace", string(namespace)), zap.String("command", command))
			}
		}
	}
	return nil
}

// Restorer brings a command's behavior back for a stored preset.
type Restorer interface {
	Command() string
	Restore(ctx context.Context, p Preset) error
}

// InitializeAll restores every active preset of every restorer. A failing
// preset is logged and does not stop the others.
func InitializeAll(ctx context.Context, baseDir string, restorers []Restorer, locker *lockfile.Locker, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	var errs []error
	for _, restorer := range restorers {
		handler := NewHandler(baseDir, restorer.Command(), locker, logger)
		collection, err := handler.Load(ctx)
		if err != nil {
			logger.Error("preset load failed", zap.String("command", restorer.Command()), zap.Error(err))
			errs = append(errs, fmt.Errorf("%s: %w", restorer.Command(), err))
			continue
		}
		restored := 0
		for _, p := range collection.Presets() {
			if IsSoftDeleted(p.Name) {
				continue
			}
			if err := restorer.Restore(ctx, p); err != nil {
				logger.Error("preset restore failed", zap.String("command", restorer.Command()), zap.String("preset", p.Name), zap.Error(err))
				errs = append(errs, fmt.Errorf("%s/%s: %w", restorer.Command(), p.Name, err))
				continue
			}
			restored++
		}
		logger.Info("presets restored", zap.String("command", restorer.Command()), zap.Int("count", restored))
	}
	return errors.Join(errs...)
}
