package upload

import (
	"errors"

	"github.com/tonimelisma/filehub-go/internal/hub"
)

// ErrNoIdentifierReturned is the failure for an accepted upload whose
// response carries no identifier under any tolerated key.
var ErrNoIdentifierReturned = errors.New("no identifier returned")

// idRule locates an identifier: a key inside an optional wrapper object.
type idRule struct {
	wrapper string // "" means the top level
	key     string
}

// idRules are tried in order; the first present identifier wins.
var idRules = []idRule{
	{"content", "id"},
	{"content", "file_id"},
	{"content", "fileId"},
	{"data", "id"},
	{"data", "file_id"},
	{"data", "fileId"},
	{"file", "id"},
	{"file", "file_id"},
	{"file", "fileId"},
	{"", "id"},
	{"", "file_id"},
	{"", "fileId"},
}

// Descriptor is the created-resource object an identifier was found in.
type Descriptor struct {
	ID   string
	Name string
	Size int64
}

// ExtractID applies the identifier rules to an upload response body.
// Numeric identifiers keep every digit. A zero identifier counts as absent.
func ExtractID(body map[string]any) (Descriptor, error) {
	for _, rule := range idRules {
		obj := body

		if rule.wrapper != "" {
			inner, ok := hub.ObjectField(body, rule.wrapper)
			if !ok {
				continue
			}

			obj = inner
		}

		id, ok := hub.StringField(obj, rule.key)
		if !ok || id == "0" {
			continue
		}

		d := Descriptor{ID: id}
		d.Name, _ = hub.StringField(obj, "file_name")
		d.Size, _ = hub.Int64Field(obj, "file_size")

		return d, nil
	}

	return Descriptor{}, ErrNoIdentifierReturned
}
