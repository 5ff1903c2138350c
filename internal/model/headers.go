package model

import "strings"

// HeaderField is a single header name with every value seen for it, in the
// order the values appeared.
type HeaderField struct {
	Name   string   `json:"name"`
	Values []string `json:"values"`
}

// Headers is an ordered multi-value header map. Repeated names such as
// Received keep all of their values; fields keep first-seen order.
type Headers []HeaderField

// Add appends value under name, creating the field on first sight.
// Names compare case-insensitively but keep their first spelling.
func (h *Headers) Add(name, value string) {
	for i := range *h {
		if strings.EqualFold((*h)[i].Name, name) {
			(*h)[i].Values = append((*h)[i].Values, value)
			return
		}
	}
	*h = append(*h, HeaderField{Name: name, Values: []string{value}})
}

// Get returns the first value for name, or "" and false.
func (h Headers) Get(name string) (string, bool) {
	values := h.Values(name)
	if len(values) == 0 {
		return "", false
	}
	return values[0], true
}

// Last returns the final value for name, or "" and false.
func (h Headers) Last(name string) (string, bool) {
	values := h.Values(name)
	if len(values) == 0 {
		return "", false
	}
	return values[len(values)-1], true
}

// Values returns every value recorded for name.
func (h Headers) Values(name string) []string {
	for _, f := range h {
		if strings.EqualFold(f.Name, name) {
			return f.Values
		}
	}
	return nil
}
