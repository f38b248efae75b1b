// Package keywords classifies observance names into categories and picks a
// representative emoji using ordered substring tables.
package keywords

import (
	"strings"

	"github.com/JakeFAU/specialdays/internal/observance"
)

var healthKeywords = []string{
	"health", "disease", "cancer", "diabetes", "tuberculosis", "tb", "malaria", "hiv", "aids",
	"hepatitis", "epilepsy", "alzheimer", "parkinson", "obesity", "stroke", "chagas", "leprosy",
	"polio", "measles", "cholera", "ebola", "yellow fever", "rabies", "rare disease",
	"mental", "suicide", "autism",
	"medical", "medicine", "patient", "nurse", "nursing", "hospital", "drug", "tobacco",
	"antimicrobial", "antibiotic",
	"immunization", "vaccine", "vaccination",
	"heart", "blood", "donor", "organ", "transplant", "kidney", "liver", "lung", "brain",
	"epidemic", "pandemic", "hygiene", "sanitation", "safety", "drowning", "snakebite",
	"disability", "down syndrome", "albinism", "hearing", "sight", "blindness",
	"nutrition", "breastfeeding", "maternal", "child health",
	"world health", "who ", "world health organization",
}

var techKeywords = []string{
	"internet", "computer", "digital", "technology", "programming", "software", "hardware",
	"data", "web", "online", "cyber",
	"artificial intelligence", "ai ", "robot",
	"telecommunication", "information", "radio", "television", "satellite",
	"science", "scientific", "engineering", "mathematics", "math", "logic", "physics",
	"chemistry", "biology", "genetics",
	"space", "asteroid", "astronaut", "nasa", "astronomy",
	"pi day", "stem ", "women in science", "girls in ict", "world science", "innovation",
}

type emojiGroup struct {
	keywords []string
	emoji    string
}

// First matching group wins, so order is significant.
var emojiGroups = []emojiGroup{
	{[]string{"water", "ocean", "sea", "marine"}, "💧"},
	{[]string{"forest", "tree"}, "🌲"},
	{[]string{"earth", "environment", "climate", "ozone"}, "🌍"},
	{[]string{"wetland", "wildlife", "biodiversity"}, "🦆"},
	{[]string{"bee", "pollinator"}, "🐝"},
	{[]string{"bird", "migratory"}, "🕊️"},
	{[]string{"mountain"}, "⛰️"},
	{[]string{"desert", "desertification"}, "🏜️"},
	{[]string{"soil"}, "🌱"},
	{[]string{"peace"}, "☮️"},
	{[]string{"human rights", "rights"}, "⚖️"},
	{[]string{"democracy", "vote"}, "🗳️"},
	{[]string{"freedom", "press"}, "📰"},
	{[]string{"refugee"}, "🏠"},
	{[]string{"slavery", "trafficking"}, "⛓️"},
	{[]string{"genocide", "holocaust", "victims"}, "🕯️"},
	{[]string{"violence", "torture"}, "🚫"},
	{[]string{"cancer"}, "🎗️"},
	{[]string{"aids", "hiv"}, "🎀"},
	{[]string{"mental health"}, "🧠"},
	{[]string{"health", "disease", "epidemic"}, "🏥"},
	{[]string{"drug", "substance"}, "💊"},
	{[]string{"tobacco"}, "🚭"},
	{[]string{"disability", "braille", "blind", "deaf"}, "♿"},
	{[]string{"autism"}, "🧩"},
	{[]string{"women", "girl", "mother"}, "👩"},
	{[]string{"child", "youth", "boy"}, "👶"},
	{[]string{"family"}, "👨‍👩‍👧"},
	{[]string{"elderly", "older person"}, "👴"},
	{[]string{"indigenous"}, "🪶"},
	{[]string{"african"}, "🌍"},
	{[]string{"education", "literacy", "teacher"}, "🎓"},
	{[]string{"book", "reading", "library"}, "📚"},
	{[]string{"language", "mother tongue"}, "🗣️"},
	{[]string{"science", "scientist"}, "🔬"},
	{[]string{"space", "asteroid", "astronaut"}, "🚀"},
	{[]string{"art", "theatre", "creativity"}, "🎨"},
	{[]string{"music", "jazz"}, "🎵"},
	{[]string{"sport", "yoga", "olympic"}, "🏅"},
	{[]string{"heritage", "museum", "monument"}, "🏛️"},
	{[]string{"internet", "cyber", "digital", "telecommunication"}, "💻"},
	{[]string{"radio", "television"}, "📻"},
	{[]string{"nuclear", "atomic"}, "☢️"},
	{[]string{"worker", "labour", "labor"}, "👷"},
	{[]string{"poverty", "hunger", "food"}, "🍞"},
	{[]string{"cooperat"}, "🤝"},
	{[]string{"happiness", "joy"}, "😊"},
	{[]string{"friendship"}, "🤝"},
	{[]string{"solidarity"}, "🤲"},
	{[]string{"tolerance"}, "🤝"},
	{[]string{"remembrance", "memory", "commemoration"}, "🕯️"},
	{[]string{"awareness"}, "💡"},
}

// DefaultEmoji is used when neither a keyword group nor a category applies.
const DefaultEmoji = "📅"

// Category maps text to a category: health keywords first, then tech, then
// culture as the default.
func Category(text string) observance.Category {
	lower := strings.ToLower(text)
	if containsAny(lower, healthKeywords) {
		return observance.CategoryGlobalHealth
	}
	if containsAny(lower, techKeywords) {
		return observance.CategoryTech
	}
	return observance.CategoryCulture
}

// Emoji picks an emoji for name from the keyword groups, falling back to the
// emoji of name's category.
func Emoji(name string) string {
	lower := strings.ToLower(name)
	for _, g := range emojiGroups {
		if containsAny(lower, g.keywords) {
			return g.emoji
		}
	}
	return CategoryEmoji(Category(name))
}

// CategoryEmoji returns the fallback emoji for a category.
func CategoryEmoji(c observance.Category) string {
	switch c {
	case observance.CategoryGlobalHealth:
		return "🏥"
	case observance.CategoryTech:
		return "💻"
	case observance.CategoryCulture:
		return "🌐"
	default:
		return DefaultEmoji
	}
}

func containsAny(s string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(s, n) {
			return true
		}
	}
	return false
}
