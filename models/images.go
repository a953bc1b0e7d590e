package models

import (
	"fmt"
	"strings"
)

// Category names one of the two ticket image collections.
type Category string

const (
	CategoryDeparture Category = "departure"
	CategoryReturn    Category = "return"
)

// ParseCategory validates a category coming from a form field.
func ParseCategory(s string) (Category, error) {
	switch c := Category(strings.ToLower(strings.TrimSpace(s))); c {
	case CategoryDeparture, CategoryReturn:
		return c, nil
	default:
		return "", fmt.Errorf("unknown image category %q", s)
	}
}

// TrainImageSet holds uploaded ticket image URLs per category.
type TrainImageSet struct {
	Departure []string `json:"departure" bson:"departure"`
	Return    []string `json:"return" bson:"return"`
}

// Normalize defaults both categories to empty lists.
func (s TrainImageSet) Normalize() TrainImageSet {
	if s.Departure == nil {
		s.Departure = []string{}
	}
	if s.Return == nil {
		s.Return = []string{}
	}
	return s
}

// Get returns the URLs stored for c.
func (s TrainImageSet) Get(c Category) []string {
	if c == CategoryDeparture {
		return s.Departure
	}
	return s.Return
}

// With returns a copy where only category c is replaced.
func (s TrainImageSet) With(c Category, urls []string) TrainImageSet {
	urls = append([]string{}, urls...)
	if c == CategoryDeparture {
		s.Departure = urls
	} else {
		s.Return = urls
	}
	return s.Normalize()
}

// Clone returns a normalized deep copy.
func (s TrainImageSet) Clone() TrainImageSet {
	return TrainImageSet{
		Departure: append([]string{}, s.Departure...),
		Return:    append([]string{}, s.Return...),
	}
}
