package embed

import (
	"fmt"
	"regexp"
	"strings"

	"modbot/internal/apperr"
)

var placeholder = regexp.MustCompile(`\$\{([^}]*)\}`)

// Interpolate replaces every ${a.b.c} in tmpl with the value found by
// walking vars. Lists are joined with ", ". Objects can not be printed and
// missing values are errors, so a broken template never reaches Discord.
func Interpolate(tmpl string, vars map[string]any) (string, error) {
	var firstErr error
	out := placeholder.ReplaceAllStringFunc(tmpl, func(match string) string {
		if firstErr != nil {
			return match
		}
		path := strings.TrimSpace(match[2 : len(match)-1])
		value, err := resolve(path, vars)
		if err != nil {
			firstErr = err
			return match
		}
		return value
	})
	if firstErr != nil {
		return "", firstErr
	}
	return out, nil
}

func resolve(path string, vars map[string]any) (string, error) {
	if path == "" {
		return "", apperr.New(apperr.Internal, apperr.EmptyValue, "Empty variable in template!")
	}
	var current any = vars
	for _, key := range strings.Split(path, ".") {
		object, ok := asObject(current)
		if !ok {
			return "", apperr.Newf(apperr.Internal, apperr.TypeError, "Variable %s walks into a value that is not an object!", path)
		}
		next, ok := object[key]
		if !ok || next == nil {
			return "", apperr.Newf(apperr.Internal, apperr.NullishValue, "Variable %s is undefined!", path)
		}
		current = next
	}
	return stringify(path, current)
}

func asObject(value any) (map[string]any, bool) {
	switch typed := value.(type) {
	case map[string]any:
		return typed, true
	case map[string]string:
		out := make(map[string]any, len(typed))
		for key, item := range typed {
			out[key] = item
		}
		return out, true
	default:
		return nil, false
	}
}

func stringify(path string, value any) (string, error) {
	switch typed := value.(type) {
	case string:
		return typed, nil
	case fmt.Stringer:
		return typed.String(), nil
	case []string:
		return strings.Join(typed, ", "), nil
	case []any:
		parts := make([]string, 0, len(typed))
		for _, item := range typed {
			part, err := stringify(path, item)
			if err != nil {
				return "", err
			}
			parts = append(parts, part)
		}
		return strings.Join(parts, ", "), nil
	case map[string]any, map[string]string:
		return "", apperr.Newf(apperr.Internal, apperr.TypeError, "Variable %s is an object and can not be printed!", path)
	default:
		return fmt.Sprint(typed), nil
	}
}
