package brain

import (
	"slices"
	"strings"
)

// Facets of resource labels, in the order they are flattened.
const (
	FacetTag        = "t"
	FacetLabel      = "l"
	FacetIcon       = "n"
	FacetEntity     = "e"
	FacetLanguage   = "s"
	FacetUser       = "u"
	FacetField      = "f"
	FacetFieldGroup = "fg"
	FacetOrigin     = "o"
	FacetPath       = "p"
	FacetMetadata   = "m"
)

var facetOrder = []string{
	FacetTag, FacetLabel, FacetIcon, FacetEntity, FacetLanguage, FacetUser,
	FacetField, FacetFieldGroup, FacetOrigin, FacetPath, FacetMetadata,
}

const maxMetadataLen = 255

// tagSet groups label values by facet.
type tagSet map[string][]string

func (t tagSet) add(facet, value string) {
	t[facet] = append(t[facet], value)
}

// flatten renders the set as /{facet}/{value} in facet order.
// Values of unknown facets are appended after the known ones, sorted by facet.
func (t tagSet) flatten() []string {
	var out []string
	seen := make(map[string]bool, len(facetOrder))
	for _, facet := range facetOrder {
		seen[facet] = true
		for _, v := range t[facet] {
			out = append(out, "/"+facet+"/"+v)
		}
	}
	var extra []string
	for facet := range t {
		if !seen[facet] {
			extra = append(extra, facet)
		}
	}
	slices.Sort(extra)
	for _, facet := range extra {
		for _, v := range t[facet] {
			out = append(out, "/"+facet+"/"+v)
		}
	}
	return out
}

// LabelTag formats a classification as an index label.
func LabelTag(labelset, label string) string {
	return "/" + FacetLabel + "/" + labelset + "/" + label
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

func splitEntity(key string) (klass, entity string, ok bool) {
	klass, entity, ok = strings.Cut(key, "/")
	if !ok || klass == "" || entity == "" {
		return "", "", false
	}
	return klass, entity, true
}
