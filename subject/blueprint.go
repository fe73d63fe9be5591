package subject

import (
	"io"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/etive-io/asimov/errors"
)

// Blueprint is one document of a blueprint file. The kind determines what it
// creates: "event" (a subject), "analysis" (a production), or
// "configuration" (project-level settings merged into the ledger).
type Blueprint struct {
	Kind string
	Data map[string]interface{}
}

// ParseBlueprints reads a multi-document YAML blueprint stream. Analysis
// documents carrying a strategy matrix are expanded in place.
func ParseBlueprints(r io.Reader) ([]Blueprint, error) {
	decoder := yaml.NewDecoder(r)

	var blueprints []Blueprint
	for {
		var doc map[string]interface{}
		err := decoder.Decode(&doc)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.Wrap(errors.ErrCorrupt, err.Error())
		}
		if doc == nil {
			continue
		}

		kind, _ := doc["kind"].(string)
		if kind == "" {
			return nil, errors.New("blueprint document has no kind")
		}
		delete(doc, "kind")

		if kind == "analysis" {
			expanded, err := ExpandStrategy(doc)
			if err != nil {
				return nil, errors.Wrap(err, "failed to expand strategy")
			}
			for _, body := range expanded {
				blueprints = append(blueprints, Blueprint{Kind: "analysis", Data: body})
			}
			continue
		}
		blueprints = append(blueprints, Blueprint{Kind: kind, Data: doc})
	}
	return blueprints, nil
}

// ParseBlueprintString is a convenience wrapper over ParseBlueprints.
func ParseBlueprintString(s string) ([]Blueprint, error) {
	return ParseBlueprints(strings.NewReader(s))
}

// Subject builds a subject from an event blueprint.
func (b Blueprint) Subject() (*Subject, error) {
	if b.Kind != "event" {
		return nil, errors.Newf("blueprint kind %s is not an event", b.Kind)
	}
	return FromMap(b.Data)
}

// Production builds a production from an analysis blueprint.
func (b Blueprint) Production() (*Production, error) {
	if b.Kind != "analysis" {
		return nil, errors.Newf("blueprint kind %s is not an analysis", b.Kind)
	}
	name, _ := b.Data["name"].(string)
	if name == "" {
		return nil, errors.New("analysis blueprint has no name")
	}
	body := deepCopyMap(b.Data)
	delete(body, "name")
	return ProductionFromMap(name, body)
}
