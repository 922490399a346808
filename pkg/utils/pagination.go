package utils

import "strconv"

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// Page is a 1-based page request.
type Page struct {
	Page  int `json:"page"`
	Limit int `json:"limit"`
}

// NewPage clamps page and limit into valid ranges.
func NewPage(page, limit int) Page {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = DefaultPageSize
	}
	if limit > MaxPageSize {
		limit = MaxPageSize
	}
	return Page{Page: page, Limit: limit}
}

// ParsePage reads page and limit query values; malformed values fall back to defaults.
func ParsePage(page, limit string) Page {
	p, _ := strconv.Atoi(page)
	l, _ := strconv.Atoi(limit)
	return NewPage(p, l)
}

// Offset is the number of rows to skip.
func (p Page) Offset() int { return (p.Page - 1) * p.Limit }

// Paginated wraps a page of items with the total row count.
type Paginated[T any] struct {
	Items []T  `json:"items"`
	Total int  `json:"total"`
	Page  Page `json:"pagination"`
}

// NewPaginated never returns a nil Items slice so it encodes as [].
func NewPaginated[T any](items []T, total int, page Page) Paginated[T] {
	if items == nil {
		items = []T{}
	}
	return Paginated[T]{Items: items, Total: total, Page: page}
}
