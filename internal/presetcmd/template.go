package presetcmd

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"modbot/internal/apperr"
	"modbot/internal/preset"

	"go.uber.org/zap"
)

// Activator starts and stops the live behavior behind a preset.
type Activator interface {
	Start(ctx context.Context, p preset.Preset) error
	Stop(name string)
}

// Template implements the new/edit/remove/list subcommands shared by every
// preset driven command.
type Template struct {
	presets   *preset.Handler
	bowl      *preset.DataBowl
	activator Activator
	initial   func() map[string]any
	logger    *zap.Logger
}

func New(presets *preset.Handler, bowl *preset.DataBowl, activator Activator, initial func() map[string]any, logger *zap.Logger) *Template {
	if logger == nil {
		logger = zap.NewNop()
	}
	if initial == nil {
		initial = func() map[string]any { return map[string]any{} }
	}
	return &Template{
		presets:   presets,
		bowl:      bowl,
		activator: activator,
		initial:   initial,
		logger:    logger.Named("presetcmd").With(zap.String("command", presets.Command())),
	}
}

func (t *Template) Command() string {
	return t.presets.Command()
}

func (t *Template) Presets() *preset.Handler {
	return t.presets
}

func (t *Template) Bowl() *preset.DataBowl {
	return t.bowl
}

func (t *Template) New(ctx context.Context, name string, params map[string]any) (preset.Preset, error) {
	if err := validateName(name); err != nil {
		return preset.Preset{}, err
	}
	created, err := t.presets.New(ctx, name, params)
	if err != nil {
		return preset.Preset{}, err
	}
	if _, err := t.bowl.New(ctx, name, t.initial()); err != nil {
		t.rollback(ctx, name, false)
		return preset.Preset{}, err
	}
	if t.activator != nil {
		if err := t.activator.Start(ctx, created); err != nil {
			t.rollback(ctx, name, true)
			return preset.Preset{}, err
		}
	}
	t.logger.Info("preset created", zap.String("preset", name))
	return created, nil
}

// rollback undoes a half created preset so the same name can be retried.
func (t *Template) rollback(ctx context.Context, name string, withBowl bool) {
	if withBowl {
		if err := t.bowl.Remove(ctx, name); err != nil {
			t.logger.Error("bowl rollback failed", zap.String("preset", name), zap.Error(err))
		}
	}
	if err := t.presets.Remove(ctx, name); err != nil {
		t.logger.Error("preset rollback failed", zap.String("preset", name), zap.Error(err))
	}
}

// Edit merges changes into the stored params. A nil value keeps the old
// one. newName renames the preset in both stores when not empty.
func (t *Template) Edit(ctx context.Context, name string, changes map[string]any, newName string) (preset.Preset, error) {
	if preset.IsSoftDeleted(name) {
		return preset.Preset{}, apperr.Userf(apperr.GhostEditing, "The preset **%s** was removed and can not be edited!", name)
	}
	if !hasChanges(changes) && newName == "" {
		return preset.Preset{}, apperr.Userf(apperr.NotEnoughArgs, "Tell me at least one thing to change on **%s**!", name)
	}
	if newName != "" {
		if err := validateName(newName); err != nil {
			return preset.Preset{}, err
		}
	}

	current, err := t.presets.Get(ctx, name, preset.ByName)
	if err != nil {
		return preset.Preset{}, err
	}
	edited := EditedData(current.Data, changes)
	if err := t.presets.SetAllData(ctx, name, edited); err != nil {
		return preset.Preset{}, err
	}

	finalName := name
	if newName != "" && newName != name {
		if err := t.renameBoth(ctx, name, newName); err != nil {
			return preset.Preset{}, err
		}
		finalName = newName
	}

	updated, err := t.presets.Get(ctx, finalName, preset.ByName)
	if err != nil {
		return preset.Preset{}, err
	}
	if t.activator != nil {
		t.activator.Stop(name)
		if err := t.activator.Start(ctx, updated); err != nil {
			return updated, err
		}
	}
	t.logger.Info("preset edited", zap.String("preset", name), zap.String("name", finalName))
	return updated, nil
}

// Remove soft deletes a preset by default. removePrevious erases it from
// both stores instead, which is also the only way to drop a preset that is
// already soft deleted.
func (t *Template) Remove(ctx context.Context, name string, removePrevious bool) (string, error) {
	if preset.IsSoftDeleted(name) && !removePrevious {
		return "", apperr.Userf(apperr.BlockedAction, "The preset **%s** was already removed!", name)
	}
	if _, err := t.presets.Get(ctx, name, preset.ByName); err != nil {
		return "", err
	}

	if removePrevious {
		if err := t.presets.Remove(ctx, name); err != nil {
			return "", err
		}
		if err := t.bowl.Remove(ctx, name); err != nil && !apperr.IsKind(err, apperr.NotFound) {
			return "", err
		}
		if t.activator != nil {
			t.activator.Stop(name)
		}
		t.logger.Info("preset erased", zap.String("preset", name))
		return "", nil
	}

	target, err := t.freeSoftDeletedName(ctx, name)
	if err != nil {
		return "", err
	}
	if err := t.renameBoth(ctx, name, target); err != nil {
		return "", err
	}
	if t.activator != nil {
		t.activator.Stop(name)
	}
	t.logger.Info("preset soft deleted", zap.String("preset", name), zap.String("name", target))
	return target, nil
}

func (t *Template) List(ctx context.Context, withOlds bool) ([]preset.Entry, error) {
	entries, err := t.presets.List(ctx)
	if err != nil {
		return nil, err
	}
	if withOlds {
		return entries, nil
	}
	return preset.FilterActive(entries), nil
}

// Names returns preset names starting with prefix, sorted, for autocomplete.
func (t *Template) Names(ctx context.Context, prefix string, withOlds bool) ([]string, error) {
	entries, err := t.List(ctx, withOlds)
	if err != nil {
		return nil, err
	}
	prefix = strings.ToLower(prefix)
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if strings.HasPrefix(strings.ToLower(entry.Name), prefix) {
			names = append(names, entry.Name)
		}
	}
	sort.Strings(names)
	return names, nil
}

func (t *Template) renameBoth(ctx context.Context, name, newName string) error {
	if err := t.presets.Rename(ctx, name, newName); err != nil {
		return err
	}
	if err := t.bowl.Rename(ctx, name, newName); err != nil && !apperr.IsKind(err, apperr.NotFound) {
		if rollbackErr := t.presets.Rename(ctx, newName, name); rollbackErr != nil {
			t.logger.Error("preset rename rollback failed", zap.String("preset", name), zap.Error(rollbackErr))
		}
		return err
	}
	return nil
}

func (t *Template) freeSoftDeletedName(ctx context.Context, name string) (string, error) {
	entries, err := t.presets.List(ctx)
	if err != nil {
		return "", err
	}
	taken := make(map[string]struct{}, len(entries))
	for _, entry := range entries {
		taken[entry.Name] = struct{}{}
	}
	candidate := preset.SoftDeletedName(name)
	for i := 2; ; i++ {
		if _, ok := taken[candidate]; !ok {
			return candidate, nil
		}
		candidate = fmt.Sprintf("%s_%d", preset.SoftDeletedName(name), i)
	}
}

// EditedData returns current with every non nil change applied.
func EditedData(current, changes map[string]any) map[string]any {
	out := make(map[string]any, len(current))
	for key, value := range current {
		out[key] = value
	}
	for key, value := range changes {
		if value == nil {
			continue
		}
		out[key] = value
	}
	return out
}

func hasChanges(changes map[string]any) bool {
	for _, value := range changes {
		if value != nil {
			return true
		}
	}
	return false
}

func validateName(name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return apperr.Userf(apperr.EmptyValue, "The preset needs a name!")
	}
	if preset.IsSoftDeleted(name) {
		return apperr.Userf(apperr.InvalidValue, "Names starting with %q are reserved for removed presets!", preset.SoftDeletePrefix)
	}
	return nil
}
