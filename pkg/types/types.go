package types

// Identification is the structured answer requested from the vision model.
type Identification struct {
	Summary      string `json:"identification"`
	Country      string `json:"country"`
	Denomination string `json:"denomination"`
	Ruler        string `json:"ruler"`
	Year         string `json:"year"`
	Motif        string `json:"motif"`
	Details      string `json:"details"`
	Legend       string `json:"legend"`
	Material     string `json:"material"`
	Keywords     string `json:"keywords"`
	Reasoning    string `json:"reasoning"`
}

// Field names of the identification schema.
const (
	FieldSummary      = "identification"
	FieldCountry      = "country"
	FieldDenomination = "denomination"
	FieldRuler        = "ruler"
	FieldYear         = "year"
	FieldMotif        = "motif"
	FieldDetails      = "details"
	FieldLegend       = "legend"
	FieldMaterial     = "material"
	FieldKeywords     = "keywords"
	FieldReasoning    = "reasoning"
)

// FromFields builds an Identification from a field map.
func FromFields(fields map[string]string) Identification {
	return Identification{
		Summary:      fields[FieldSummary],
		Country:      fields[FieldCountry],
		Denomination: fields[FieldDenomination],
		Ruler:        fields[FieldRuler],
		Year:         fields[FieldYear],
		Motif:        fields[FieldMotif],
		Details:      fields[FieldDetails],
		Legend:       fields[FieldLegend],
		Material:     fields[FieldMaterial],
		Keywords:     fields[FieldKeywords],
		Reasoning:    fields[FieldReasoning],
	}
}

// Title is the one-line identification shown to the user.
func (id Identification) Title() string {
	if id.Summary != "" {
		return id.Summary
	}
	title := ""
	for _, part := range []string{id.Country, id.Denomination, id.Ruler} {
		if part == "" {
			continue
		}
		if title != "" {
			title += ", "
		}
		title += part
	}
	return title
}

// ImageOptions controls how an image is prepared for the model.
type ImageOptions struct {
	// Format is the encoding sent to the model: jpg or png.
	Format string
	// MaxDim limits the long side in pixels, 0 keeps the original size.
	MaxDim  int
	Quality int
	// Filters are applied in order before encoding.
	Filters []string
	// ContrastFactor is the contrast enhancement factor, 1 keeps the image unchanged.
	ContrastFactor float64
	// SharpenSigma is the unsharp-mask radius used by the sharpness filters.
	SharpenSigma float64
}
