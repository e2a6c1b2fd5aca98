package domain

// Category is one classification dimension returned by the classifier.
// Key is the field name in the result payload, Label is what the UI shows.
type Category struct {
	Key   string `mapstructure:"key" json:"key" validate:"required"`
	Label string `mapstructure:"label" json:"label" validate:"required"`
}

// DefaultCategories returns the six categories the classifier service emits.
func DefaultCategories() []Category {
	return []Category{
		{Key: "challenges", Label: "Enjeux"},
		{Key: "themes", Label: "Thèmes"},
		{Key: "scientificThemes", Label: "Thèmes scientifiques"},
		{Key: "mobilityTypes", Label: "Types de mobilité"},
		{Key: "axes", Label: "Axes/leviers d'actions"},
		{Key: "usages", Label: "Usages"},
	}
}

// CategoryValues holds the decoded values of one category.
// Error is set when the category failed to decode; Values is then nil.
type CategoryValues struct {
	Key    string   `json:"key"`
	Label  string   `json:"label"`
	Values []string `json:"values"`
	Error  string   `json:"error,omitempty"`
}
