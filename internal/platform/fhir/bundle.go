package fhir

import (
	"fmt"
	"time"
)

type Bundle struct {
	ResourceType string        `json:"resourceType"`
	Type         string        `json:"type"`
	Total        *int          `json:"total,omitempty"`
	Timestamp    *time.Time    `json:"timestamp,omitempty"`
	Link         []BundleLink  `json:"link,omitempty"`
	Entry        []BundleEntry `json:"entry"`
}

type BundleLink struct {
	Relation string `json:"relation"`
	URL      string `json:"url"`
}

type BundleEntry struct {
	FullURL  string        `json:"fullUrl,omitempty"`
	Resource interface{}   `json:"resource"`
	Search   *BundleSearch `json:"search,omitempty"`
}

type BundleSearch struct {
	Mode string `json:"mode,omitempty"`
}

// Page describes the window a searchset bundle covers.
type Page struct {
	BaseURL string
	Count   int
	Offset  int
}

func (p Page) link(relation string, offset int) BundleLink {
	return BundleLink{Relation: relation, URL: fmt.Sprintf("%s?_count=%d&_offset=%d", p.BaseURL, p.Count, offset)}
}

// NewSearchBundle wraps entries in a searchset Bundle with self, next and
// previous links.
func NewSearchBundle(entries []BundleEntry, total int, page Page) *Bundle {
	now := time.Now().UTC()
	for i := range entries {
		if entries[i].Search == nil {
			entries[i].Search = &BundleSearch{Mode: "match"}
		}
	}
	if entries == nil {
		entries = []BundleEntry{}
	}

	links := []BundleLink{page.link("self", page.Offset)}
	if page.Count > 0 && page.Offset+page.Count < total {
		links = append(links, page.link("next", page.Offset+page.Count))
	}
	if page.Offset > 0 {
		prev := page.Offset - page.Count
		if prev < 0 {
			prev = 0
		}
		links = append(links, page.link("previous", prev))
	}

	return &Bundle{
		ResourceType: "Bundle",
		Type:         "searchset",
		Total:        &total,
		Timestamp:    &now,
		Link:         links,
		Entry:        entries,
	}
}
