package preset

import (
	"bytes"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"strings"

	"modbot/internal/apperr"
	"modbot/internal/docstore"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

const SoftDeletePrefix = "old_"

type Preset struct {
	UUID string         `json:"-"`
	Name string         `json:"name"`
	Data map[string]any `json:"data"`
}

type Entry struct {
	UUID string `json:"uuid"`
	Name string `json:"name"`
}

// Collection keeps presets in the order they were created.
type Collection struct {
	entries *orderedmap.OrderedMap[string, Preset]
}

func NewCollection() *Collection {
	return &Collection{entries: orderedmap.New[string, Preset]()}
}

func (c *Collection) Len() int {
	return c.entries.Len()
}

func (c *Collection) ByUUID(uuid string) (Preset, bool) {
	return c.entries.Get(uuid)
}

func (c *Collection) ByName(name string) (Preset, bool) {
	for pair := c.entries.Oldest(); pair != nil; pair = pair.Next() {
		if pair.Value.Name == name {
			return pair.Value, true
		}
	}
	return Preset{}, false
}

func (c *Collection) Entries() []Entry {
	out := make([]Entry, 0, c.entries.Len())
	for pair := c.entries.Oldest(); pair != nil; pair = pair.Next() {
		out = append(out, Entry{UUID: pair.Key, Name: pair.Value.Name})
	}
	return out
}

func (c *Collection) Presets() []Preset {
	out := make([]Preset, 0, c.entries.Len())
	for pair := c.entries.Oldest(); pair != nil; pair = pair.Next() {
		out = append(out, pair.Value)
	}
	return out
}

func (c *Collection) put(p Preset) {
	c.entries.Set(p.UUID, p)
}

func (c *Collection) remove(uuid string) {
	c.entries.Delete(uuid)
}

func (c *Collection) MarshalJSON() ([]byte, error) {
	return c.entries.MarshalJSON()
}

// Hash is the content address of a preset: SHA-1 over the compact JSON form
// of data, object keys sorted and HTML left unescaped.
func Hash(data map[string]any) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(data); err != nil {
		return "", apperr.Wrap(err, apperr.Internal, apperr.TypeError, "preset data is not serializable")
	}
	sum := sha1.Sum(bytes.TrimSuffix(buf.Bytes(), []byte("\n")))
	return hex.EncodeToString(sum[:]), nil
}

func IsSoftDeleted(name string) bool {
	return strings.HasPrefix(name, SoftDeletePrefix)
}

func SoftDeletedName(name string) string {
	return SoftDeletePrefix + name
}

// FilterActive drops soft deleted entries.
func FilterActive(entries []Entry) []Entry {
	out := make([]Entry, 0, len(entries))
	for _, entry := range entries {
		if IsSoftDeleted(entry.Name) {
			continue
		}
		out = append(out, entry)
	}
	return out
}

type collectionCodec struct{}

var _ docstore.Codec[*Collection] = collectionCodec{}

func (collectionCodec) Empty() *Collection {
	return NewCollection()
}

func (collectionCodec) Encode(c *Collection) ([]byte, error) {
	return docstore.MarshalIndent(c)
}

// Decode rejects the whole document when a single entry is malformed.
func (collectionCodec) Decode(raw []byte) (*Collection, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, corrupted("top level is not an object")
	}
	top := orderedmap.New[string, json.RawMessage]()
	if err := json.Unmarshal(trimmed, top); err != nil {
		return nil, apperr.Wrap(err, apperr.Internal, apperr.CorruptedFile, "This preset file is corrupted!")
	}

	out := NewCollection()
	for pair := top.Oldest(); pair != nil; pair = pair.Next() {
		preset, err := decodeEntry(pair.Key, pair.Value)
		if err != nil {
			return nil, err
		}
		out.put(preset)
	}
	return out, nil
}

func decodeEntry(uuid string, raw json.RawMessage) (Preset, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil || fields == nil {
		return Preset{}, corrupted("entry " + uuid + " is not an object")
	}

	var name string
	nameRaw := bytes.TrimSpace(fields["name"])
	if len(nameRaw) == 0 || nameRaw[0] != '"' || json.Unmarshal(nameRaw, &name) != nil {
		return Preset{}, corrupted("entry " + uuid + " has no string name")
	}

	trimmed := bytes.TrimSpace(fields["data"])
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return Preset{}, corrupted("entry " + uuid + " has no data object")
	}
	data, err := decodeData(trimmed)
	if err != nil {
		return Preset{}, corrupted("entry " + uuid + " has unreadable data")
	}
	return Preset{UUID: uuid, Name: name, Data: data}, nil
}

func decodeData(raw []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	data := map[string]any{}
	if err := dec.Decode(&data); err != nil {
		return nil, err
	}
	return data, nil
}

func corrupted(detail string) error {
	return apperr.Newf(apperr.Internal, apperr.CorruptedFile, "This preset file is corrupted! %s", detail)
}

func cloneData(data map[string]any) map[string]any {
	out := make(map[string]any, len(data))
	for key, value := range data {
		out[key] = value
	}
	return out
}
