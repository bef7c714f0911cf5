package profile

import (
	"encoding/json"
	"fmt"
	"time"
)

// Origin records whether a note was requested by the user or inferred.
type Origin string

const (
	OriginExplicit   Origin = "explicit"
	OriginContextual Origin = "contextual"
)

// Note is a free-form fact the user asked to keep (or that looked important).
type Note struct {
	Text      string
	CreatedAt time.Time
	Origin    Origin
}

// Profile is the single stored view of the user. Likes and Dislikes are
// insertion-ordered sets; Notes never hold two entries with the same Text.
type Profile struct {
	Name        *string
	Birthday    *string
	Likes       []string
	Dislikes    []string
	Notes       []Note
	LastUpdated time.Time
}

// IsEmpty reports whether nothing has been learned about the user yet.
func (p Profile) IsEmpty() bool {
	return p.Name == nil && p.Birthday == nil && len(p.Likes) == 0 && len(p.Dislikes) == 0 && len(p.Notes) == 0
}

// document is the persisted JSON shape. Field names are stable.
type document struct {
	Name        *string     `json:"name"`
	Birthday    *string     `json:"birthday"`
	Preferences preferences `json:"preferences"`
	CustomNotes []noteDoc   `json:"customNotes"`
	LastUpdated time.Time   `json:"lastUpdated"`
}

type preferences struct {
	Likes    []string `json:"likes"`
	Dislikes []string `json:"dislikes"`
}

type noteDoc struct {
	Date time.Time `json:"date"`
	Note string    `json:"note"`
	Type Origin    `json:"type"`
}

// Encode serializes p to its persisted JSON form.
func Encode(p Profile) ([]byte, error) {
	doc := document{
		Name:        p.Name,
		Birthday:    p.Birthday,
		Preferences: preferences{Likes: nonNil(p.Likes), Dislikes: nonNil(p.Dislikes)},
		CustomNotes: make([]noteDoc, 0, len(p.Notes)),
		LastUpdated: p.LastUpdated,
	}
	for _, n := range p.Notes {
		doc.CustomNotes = append(doc.CustomNotes, noteDoc{Date: n.CreatedAt, Note: n.Text, Type: n.Origin})
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encoding profile: %w", err)
	}
	return data, nil
}

// Decode parses the persisted JSON form. Empty lists decode to nil.
func Decode(data []byte) (Profile, error) {
	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return Profile{}, fmt.Errorf("decoding profile: %w", err)
	}
	p := Profile{
		Name:        doc.Name,
		Birthday:    doc.Birthday,
		Likes:       nilIfEmpty(doc.Preferences.Likes),
		Dislikes:    nilIfEmpty(doc.Preferences.Dislikes),
		LastUpdated: doc.LastUpdated,
	}
	for _, n := range doc.CustomNotes {
		origin := n.Type
		if origin != OriginExplicit {
			origin = OriginContextual
		}
		p.Notes = append(p.Notes, Note{Text: n.Note, CreatedAt: n.Date, Origin: origin})
	}
	return p, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func nilIfEmpty(s []string) []string {
	if len(s) == 0 {
		return nil
	}
	return s
}
