package apifeatures

import (
	"encoding/json"
	"strings"
)

// Projection selects which keys of a rendered document reach the client.
// A non-empty Include wins over Exclude; "id" is always kept.
type Projection struct {
	Include []string
	Exclude []string
}

func DefaultProjection() Projection {
	return Projection{Exclude: []string{"version"}}
}

func ParseProjection(spec string) Projection {
	var p Projection
	for _, part := range strings.Split(spec, ",") {
		part = strings.TrimSpace(part)
		switch {
		case part == "":
		case strings.HasPrefix(part, "-"):
			p.Exclude = append(p.Exclude, part[1:])
		default:
			p.Include = append(p.Include, part)
		}
	}
	return p
}

// Apply renders doc and keeps only the projected keys.
func (p Projection) Apply(doc interface{}) (map[string]interface{}, error) {
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, err
	}
	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}

	if len(p.Include) > 0 {
		keep := map[string]bool{"id": true}
		for _, k := range p.Include {
			keep[k] = true
		}
		for k := range m {
			if !keep[k] {
				delete(m, k)
			}
		}
		return m, nil
	}
	for _, k := range p.Exclude {
		if k != "id" {
			delete(m, k)
		}
	}
	return m, nil
}

// ApplyAll projects every document in docs.
func ApplyAll[T any](p Projection, docs []T) ([]map[string]interface{}, error) {
	out := make([]map[string]interface{}, 0, len(docs))
	for _, d := range docs {
		m, err := p.Apply(d)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}
