package models

// Character is a standalone generated character record returned to the caller.
type Character struct {
	Name       string              `json:"name"`
	Style      string              `json:"style"`
	Traits     map[string][]string `json:"traits"`
	Attributes map[string]string   `json:"attributes,omitempty"`
	// Model is an opaque reference to the generated asset.
	Model string `json:"model"`
}

const DefaultStyle = "modern"

var (
	SupportedStyles = []string{"modern", "fantasy", "sci-fi", "historical"}
	BodyTypes       = []string{"athletic", "slim", "muscular", "heavy"}
	AgeRanges       = []string{"child", "teen", "adult", "elderly"}
)

// TraitCategories lists the trait vocabulary recognized in character prompts.
var TraitCategories = map[string][]string{
	"personality": {"friendly", "aggressive", "mysterious", "heroic", "villainous"},
	"appearance":  {"tall", "short", "muscular", "slim", "armored", "magical"},
	"abilities":   {"magic", "martial_arts", "technology", "supernatural", "weapons"},
}
