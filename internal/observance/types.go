package observance

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrInvalidDate marks a date that is not a valid DD/MM.
	ErrInvalidDate = errors.New("invalid date")
	// ErrInvalidCategory marks a category outside the fixed set.
	ErrInvalidCategory = errors.New("invalid category")
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrRequestNotSent marks a fetch that was refused before any request
	// left the process, such as a robots.txt block.
	ErrRequestNotSent = errors.New("request not sent")
)

// Category is the closed set of observance categories.
type Category string

// Known categories.
const (
	CategoryGlobalHealth Category = "Global Health"
	CategoryTech         Category = "Tech"
	CategoryCulture      Category = "Culture"
	CategoryCustom       Category = "Custom"
)

// Categories lists every valid category in display order.
func Categories() []Category {
	return []Category{CategoryGlobalHealth, CategoryTech, CategoryCulture, CategoryCustom}
}

// ParseCategory matches s case-insensitively, ignoring spaces, dashes and
// underscores, so "global_health" and "Global Health" are the same.
func ParseCategory(s string) (Category, error) {
	key := categoryKey(s)
	for _, c := range Categories() {
		if categoryKey(string(c)) == key {
			return c, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidCategory, s)
}

func categoryKey(s string) string {
	r := strings.NewReplacer(" ", "", "_", "", "-", "")
	return strings.ToLower(r.Replace(strings.TrimSpace(s)))
}

// Valid reports whether c is exactly one of the known categories.
func (c Category) Valid() bool {
	for _, known := range Categories() {
		if c == known {
			return true
		}
	}
	return false
}

// MarshalText implements encoding.TextMarshaler.
func (c Category) MarshalText() ([]byte, error) {
	if !c.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidCategory, string(c))
	}
	return []byte(c), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (c *Category) UnmarshalText(b []byte) error {
	parsed, err := ParseCategory(string(b))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// Observance is a recurring annual special day reported by one source.
type Observance struct {
	Date        DayMonth `json:"date" yaml:"date"`
	Name        string   `json:"name" yaml:"name"`
	Category    Category `json:"category" yaml:"category"`
	Description string   `json:"description" yaml:"description,omitempty"`
	Emoji       string   `json:"emoji" yaml:"emoji,omitempty"`
	Enabled     bool     `json:"enabled" yaml:"enabled"`
	Source      string   `json:"source" yaml:"source,omitempty"`
	URL         string   `json:"url" yaml:"url,omitempty"`
}

// Validate checks the fields every stored observance must carry.
func (o Observance) Validate() error {
	if !o.Date.Valid() {
		return fmt.Errorf("%w: %s", ErrInvalidDate, o.Date)
	}
	if strings.TrimSpace(o.Name) == "" {
		return errors.New("name is required")
	}
	if !o.Category.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidCategory, string(o.Category))
	}
	return nil
}

// Source names used for attribution and dedup priority.
const (
	SourceUN           = "UN"
	SourceWHO          = "WHO"
	SourceUNESCO       = "UNESCO"
	SourceCalendarific = "Calendarific"
	SourceCustom       = "Custom"
)

// Clone returns a copy of the slice; nil stays nil.
func Clone(list []Observance) []Observance {
	if list == nil {
		return nil
	}
	out := make([]Observance, len(list))
	copy(out, list)
	return out
}

// FilterDate returns entries of list falling on d.
func FilterDate(list []Observance, d DayMonth) []Observance {
	var out []Observance
	for _, o := range list {
		if o.Date == d {
			out = append(out, o)
		}
	}
	return out
}
