package holidayapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/JakeFAU/specialdays/internal/keywords"
	"github.com/JakeFAU/specialdays/internal/observance"
)

// apiResponse is the Calendarific envelope. The response member is an empty
// list when a day has no holidays and an object otherwise.
type apiResponse struct {
	Meta struct {
		Code        int    `json:"code"`
		ErrorType   string `json:"error_type"`
		ErrorDetail string `json:"error_detail"`
	} `json:"meta"`
	Response json.RawMessage `json:"response"`
}

type holidayList struct {
	Holidays []json.RawMessage `json:"holidays"`
}

// Holiday is the subset of an upstream record the engine reads.
type Holiday struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Type        []string `json:"type"`
	Date        struct {
		ISO string `json:"iso"`
	} `json:"date"`
}

var errAPI = errors.New("holiday api error")

// parseResponse returns the raw holiday records worth keeping: national,
// local and observance types. Seasons and similar are dropped.
func parseResponse(body []byte) ([]json.RawMessage, error) {
	var env apiResponse
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("decode holiday response: %w", err)
	}
	if env.Meta.Code != 200 {
		detail := env.Meta.ErrorDetail
		if detail == "" {
			detail = "unknown error"
		}
		return nil, fmt.Errorf("%w: code %d: %s", errAPI, env.Meta.Code, detail)
	}

	raw := strings.TrimSpace(string(env.Response))
	if raw == "" || strings.HasPrefix(raw, "[") || raw == "null" {
		return []json.RawMessage{}, nil
	}
	var list holidayList
	if err := json.Unmarshal(env.Response, &list); err != nil {
		return nil, fmt.Errorf("decode holidays: %w", err)
	}

	kept := make([]json.RawMessage, 0, len(list.Holidays))
	for _, rec := range list.Holidays {
		var h Holiday
		if err := json.Unmarshal(rec, &h); err != nil {
			continue
		}
		if keepType(h.Type) {
			kept = append(kept, rec)
		}
	}
	return kept, nil
}

func keepType(types []string) bool {
	for _, t := range types {
		lower := strings.ToLower(t)
		for _, want := range []string{"national", "local", "observance"} {
			if strings.Contains(lower, want) {
				return true
			}
		}
	}
	return false
}

var (
	whoMention = regexp.MustCompile(`(?i)world health organization|\bwho\b`)
	unMention  = regexp.MustCompile(`(?i)united nations|\bun\b`)
)

// attribute names the organization behind a holiday from its description.
func attribute(description string) string {
	lower := strings.ToLower(description)
	switch {
	case whoMention.MatchString(description):
		return observance.SourceWHO
	case unMention.MatchString(description):
		return observance.SourceUN
	case strings.Contains(lower, "unesco"):
		return observance.SourceUNESCO
	case strings.Contains(lower, "unicef"):
		return "UNICEF"
	default:
		return observance.SourceCalendarific
	}
}

// toObservance converts one raw record. Records without a usable date are
// rejected.
func toObservance(rec json.RawMessage) (observance.Observance, bool) {
	var h Holiday
	if err := json.Unmarshal(rec, &h); err != nil {
		return observance.Observance{}, false
	}
	iso, _, _ := strings.Cut(h.Date.ISO, "T")
	t, err := time.Parse(time.DateOnly, iso)
	if err != nil {
		return observance.Observance{}, false
	}
	name := strings.TrimSpace(h.Name)
	if name == "" {
		name = "Unknown Observance"
	}
	description := strings.TrimSpace(h.Description)
	category := keywords.Category(name + " " + description)
	if description == "" {
		description = "International observance: " + name
	}
	return observance.Observance{
		Date:        observance.FromTime(t),
		Name:        name,
		Category:    category,
		Description: description,
		Emoji:       keywords.DefaultEmoji,
		Enabled:     true,
		Source:      attribute(h.Description),
	}, true
}
