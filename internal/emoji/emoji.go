package emoji

import (
	"regexp"
	"strings"
	"unicode"

	"modbot/internal/apperr"

	"github.com/rivo/uniseg"
)

type Format int

const (
	FormatInvalid Format = iota
	FormatUnicode
	FormatCustom
)

func (f Format) String() string {
	switch f {
	case FormatUnicode:
		return "unicode"
	case FormatCustom:
		return "custom"
	default:
		return "invalid"
	}
}

type Emoji struct {
	Name     string
	ID       string
	Animated bool
	Format   Format
}

var (
	stripper = strings.NewReplacer(`\`, "", "<", "", ">", "")
	custom   = regexp.MustCompile(`^(a)?:?([\w~]{2,32}):(\d{5,25})$`)
)

// Sanitize accepts what users paste into an option: a unicode emoji, the
// escaped <:name:id> form or a bare name:id pair.
func Sanitize(raw string) Emoji {
	cleaned := strings.TrimSpace(stripper.Replace(raw))
	if match := custom.FindStringSubmatch(cleaned); match != nil {
		return Emoji{Name: match[2], ID: match[3], Animated: match[1] != "", Format: FormatCustom}
	}
	if isUnicodeEmoji(cleaned) {
		return Emoji{Name: cleaned, Format: FormatUnicode}
	}
	return Emoji{Name: strings.Trim(cleaned, ":"), Format: FormatInvalid}
}

// Parse is Sanitize for callers that need a usable emoji.
func Parse(raw string) (Emoji, error) {
	e := Sanitize(raw)
	if e.Format == FormatInvalid {
		return Emoji{}, apperr.Userf(apperr.InvalidValue, "**%s** is not an emoji I can use!", raw)
	}
	return e, nil
}

func isUnicodeEmoji(value string) bool {
	if value == "" || uniseg.GraphemeClusterCount(value) != 1 {
		return false
	}
	for _, r := range value {
		if unicode.Is(unicode.So, r) || unicode.Is(unicode.Regional_Indicator, r) {
			return true
		}
	}
	return false
}

// APIName is the form the reaction endpoints expect.
func (e Emoji) APIName() string {
	if e.Format == FormatCustom {
		return e.Name + ":" + e.ID
	}
	return e.Name
}

func (e Emoji) String() string {
	if e.Format != FormatCustom {
		return e.Name
	}
	prefix := "<:"
	if e.Animated {
		prefix = "<a:"
	}
	return prefix + e.Name + ":" + e.ID + ">"
}

// Matches reports whether a reaction with the given id and name is this emoji.
func (e Emoji) Matches(id, name string) bool {
	if e.Format == FormatCustom {
		return id == e.ID
	}
	return id == "" && name == e.Name
}
