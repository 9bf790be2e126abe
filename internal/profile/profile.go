// Package profile defines the music profiles that players compare and the
// display cards built from them.
package profile

import (
	"strings"

	"golang.org/x/text/unicode/norm"
)

const (
	listSeparator = ";"

	CardGenres  = 3 // genres shown on a card
	CardArtists = 5 // artists shown on a card
)

// Profile is one comparable person and their listening taste.
type Profile struct {
	ID       string   `json:"id" yaml:"id"`
	Name     string   `json:"name" yaml:"name"`
	ImageURL string   `json:"image_url" yaml:"image_url"`
	Genres   []string `json:"genres" yaml:"genres"`
	Artists  []string `json:"artists" yaml:"artists"`
}

// Card is the trimmed view of a profile sent to clients.
type Card struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	ImageURL string   `json:"image_url"`
	Genres   []string `json:"genres"`
	Artists  []string `json:"artists"`
}

// Card returns the display card for p.
func (p Profile) Card() Card {
	return Card{
		ID:       p.ID,
		Name:     p.Name,
		ImageURL: p.ImageURL,
		Genres:   head(p.Genres, CardGenres),
		Artists:  head(p.Artists, CardArtists),
	}
}

// Normalize trims surrounding whitespace and converts s to NFC so that
// visually identical strings compare equal.
func Normalize(s string) string {
	return norm.NFC.String(strings.TrimSpace(s))
}

// SplitList parses a ";"-separated list as stored in the users table.
// Entries are normalized and empty entries dropped.
func SplitList(s string) []string {
	parts := strings.Split(s, listSeparator)
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = Normalize(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// JoinList is the inverse of SplitList.
func JoinList(items []string) string {
	return strings.Join(items, listSeparator)
}

// normalized returns a copy of p with every text field normalized.
func (p Profile) normalized() Profile {
	out := Profile{
		ID:       Normalize(p.ID),
		Name:     Normalize(p.Name),
		ImageURL: strings.TrimSpace(p.ImageURL),
	}
	for _, g := range p.Genres {
		if g = Normalize(g); g != "" {
			out.Genres = append(out.Genres, g)
		}
	}
	for _, a := range p.Artists {
		if a = Normalize(a); a != "" {
			out.Artists = append(out.Artists, a)
		}
	}
	return out
}

func head(items []string, n int) []string {
	if len(items) > n {
		items = items[:n]
	}
	out := make([]string, len(items))
	copy(out, items)
	return out
}
