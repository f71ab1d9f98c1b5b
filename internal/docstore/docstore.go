package docstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"modbot/internal/apperr"
	"modbot/internal/lockfile"

	"github.com/google/renameio/v2"
)

type Codec[T any] interface {
	Decode(data []byte) (T, error)
	Encode(value T) ([]byte, error)
	Empty() T
}

// File is a JSON document that is only ever read or written while holding
// its lock. Every access loads the whole document, validates it through the
// codec and, for updates, writes it back atomically before releasing.
type File[T any] struct {
	path   string
	locker *lockfile.Locker
	codec  Codec[T]
}

func New[T any](path string, locker *lockfile.Locker, codec Codec[T]) *File[T] {
	return &File[T]{path: path, locker: locker, codec: codec}
}

func (f *File[T]) Path() string {
	return f.path
}

func (f *File[T]) View(ctx context.Context, fn func(T) error) error {
	release, err := f.locker.Acquire(ctx, f.path)
	if err != nil {
		return err
	}
	defer release()

	value, err := f.read()
	if err != nil {
		return err
	}
	return fn(value)
}

// Update runs fn on the current document and persists what it returns. When
// fn fails nothing is written.
func (f *File[T]) Update(ctx context.Context, fn func(T) (T, error)) error {
	release, err := f.locker.Acquire(ctx, f.path)
	if err != nil {
		return err
	}
	defer release()

	value, err := f.read()
	if err != nil {
		return err
	}
	next, err := fn(value)
	if err != nil {
		return err
	}
	return f.write(next)
}

// Ensure creates the file with an empty document when it does not exist.
func (f *File[T]) Ensure(ctx context.Context) (bool, error) {
	release, err := f.locker.Acquire(ctx, f.path)
	if err != nil {
		return false, err
	}
	defer release()

	if _, err := os.Stat(f.path); err == nil {
		return false, nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return false, err
	}
	if err := f.write(f.codec.Empty()); err != nil {
		return false, err
	}
	return true, nil
}

func (f *File[T]) read() (T, error) {
	raw, err := os.ReadFile(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		return f.codec.Empty(), nil
	}
	if err != nil {
		var zero T
		return zero, apperr.Wrap(err, apperr.External, apperr.Other, fmt.Sprintf("read %s", filepath.Base(f.path)))
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		var zero T
		return zero, apperr.Newf(apperr.Internal, apperr.EmptyValue, "%s is empty", filepath.Base(f.path))
	}
	if !json.Valid(raw) {
		var zero T
		return zero, apperr.Newf(apperr.Internal, apperr.SyntaxError, "%s is not valid JSON", filepath.Base(f.path))
	}
	return f.codec.Decode(raw)
}

func (f *File[T]) write(value T) error {
	data, err := f.codec.Encode(value)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(f.path), 0o755); err != nil {
		return err
	}
	if err := renameio.WriteFile(f.path, data, 0o644); err != nil {
		return apperr.Wrap(err, apperr.Internal, apperr.NotSent, fmt.Sprintf("write %s", filepath.Base(f.path)))
	}
	return nil
}

// JSONCodec handles documents that need no validation beyond decoding.
type JSONCodec[T any] struct {
	NewEmpty func() T
}

func (c JSONCodec[T]) Decode(data []byte) (T, error) {
	value := c.Empty()
	if err := json.Unmarshal(data, &value); err != nil {
		var zero T
		return zero, apperr.Wrap(err, apperr.Internal, apperr.CorruptedFile, "document does not match its shape")
	}
	return value, nil
}

func (c JSONCodec[T]) Encode(value T) ([]byte, error) {
	return MarshalIndent(value)
}

func (c JSONCodec[T]) Empty() T {
	if c.NewEmpty != nil {
		return c.NewEmpty()
	}
	var zero T
	return zero
}

// MarshalIndent writes the on-disk form: four space indentation, no HTML
// escaping and a trailing newline.
func MarshalIndent(value any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "    ")
	if err := enc.Encode(value); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
