package fence

import (
	"strings"

	"github.com/adrg/frontmatter"
	"gopkg.in/yaml.v3"
)

// yamlFormat restricts frontmatter parsing to `---` YAML blocks; the fence
// transform never produces any other delimiter.
var yamlFormat = frontmatter.NewFormat(frontmatterDelim, frontmatterDelim, yaml.Unmarshal)

// Metadata holds the recognized frontmatter keys of a document, plus all
// remaining keys verbatim. It feeds the ambient settings sent alongside
// update events; the fence transform itself never interprets it.
type Metadata struct {
	Title string         `yaml:"title"`
	Extra map[string]any `yaml:",inline"`
}

// ParseMetadata extracts frontmatter metadata from raw markdown and returns
// it along with the document body. Raw input without frontmatter, or with
// frontmatter that does not parse as YAML, yields empty metadata and the
// whole input as body; extraction is best-effort and never blocks the sync
// pipeline.
func ParseMetadata(raw string) (Metadata, string) {
	if !HasFrontmatter(raw) {
		return Metadata{}, raw
	}

	var meta Metadata
	body, err := frontmatter.Parse(strings.NewReader(raw), &meta, yamlFormat)
	if err != nil {
		return Metadata{}, raw
	}
	return meta, string(body)
}

// Settings flattens metadata into the ambient settings map attached to
// update events. The title, when present, is exposed as "title".
func (m Metadata) Settings() map[string]any {
	if m.Title == "" && len(m.Extra) == 0 {
		return nil
	}

	settings := make(map[string]any, len(m.Extra)+1)
	for k, v := range m.Extra {
		settings[k] = v
	}
	if m.Title != "" {
		settings["title"] = m.Title
	}
	return settings
}
