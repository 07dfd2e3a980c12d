// Package prompts holds the default Veo generation prompt per product
// category.
//
// Prompts are stored as text files under templates/ and embedded at compile
// time, so prompt edits are versioned and reviewed with the binary.
package prompts

import (
	_ "embed"
	"strings"
)

//go:embed templates/female_clothes.txt
var femaleClothes string

//go:embed templates/female_underwear.txt
var femaleUnderwear string

//go:embed templates/male_clothes.txt
var maleClothes string

//go:embed templates/male_underwear.txt
var maleUnderwear string

// Fallback for categories without a dedicated template.
//
//go:embed templates/fallback.txt
var fallback string

// byCategory maps an input-tier category prefix to its default prompt.
var byCategory = map[string]string{
	"female_clothes":   femaleClothes,
	"female_underwear": femaleUnderwear,
	"male_clothes":     maleClothes,
	"male_underwear":   maleUnderwear,
}

// ForCategory returns the default generation prompt for a category. Unknown
// categories get the generic fallback prompt.
func ForCategory(category string) string {
	if prompt, ok := byCategory[category]; ok {
		return strings.TrimSpace(prompt)
	}
	return strings.TrimSpace(fallback)
}
