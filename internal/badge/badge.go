package badge

// Badge is a Shields.io-compatible endpoint response. Field order is fixed so
// serialized bodies (and therefore ETags) are stable across runs.
type Badge struct {
	SchemaVersion int    `json:"schemaVersion"`
	Label         string `json:"label"`
	Message       string `json:"message"`
	Color         string `json:"color"`
	NamedLogo     string `json:"namedLogo,omitempty"`
	CacheSeconds  int    `json:"cacheSeconds,omitempty"`
}

// Shields color names used by badge handlers.
const (
	ColorBlue      = "blue"
	ColorGreen     = "green"
	ColorRed       = "red"
	ColorYellow    = "yellow"
	ColorLightGrey = "lightgrey"
)

// New creates a badge with schemaVersion pinned to 1.
func New(label, message, color string) Badge {
	return Badge{
		SchemaVersion: 1,
		Label:         label,
		Message:       message,
		Color:         color,
	}
}

// WithLogo sets the namedLogo field.
func (b Badge) WithLogo(logo string) Badge {
	b.NamedLogo = logo
	return b
}
