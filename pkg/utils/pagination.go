// Package utils provides pagination for list endpoints. The analysis backend
// returns the full assessment history in one response; the companion API pages
// over it locally so the history screen can load it incrementally.
package utils

import (
	"net/http"
	"strconv"
)

const (
	// DefaultPageSize is the number of history items per page when not specified
	DefaultPageSize = 10
	// MaxPageSize caps page_size
	MaxPageSize = 50
)

// PageParams holds pagination parameters extracted from an HTTP request.
type PageParams struct {
	Page     int // 1-based page number
	PageSize int // Number of items per page
	Offset   int // 0-based index of the first item
}

// PageMeta holds pagination metadata included in list responses.
type PageMeta struct {
	Page       int  `json:"page"`
	PageSize   int  `json:"page_size"`
	TotalPages int  `json:"total_pages"`
	TotalItems int  `json:"total_items"`
	HasNext    bool `json:"has_next"`
}

// PaginatedResponse wraps a page of data with its metadata.
type PaginatedResponse struct {
	Data       interface{} `json:"data"`
	Pagination PageMeta    `json:"pagination"`
}

// ParsePageParams reads the "page" and "page_size" query parameters, applying
// defaults and bounds.
//
// Example:
//
//	params := utils.ParsePageParams(r)
//	page := utils.Paginate(history, params)
func ParsePageParams(r *http.Request) PageParams {
	page := parseIntParam(r, "page", 1)
	pageSize := parseIntParam(r, "page_size", DefaultPageSize)

	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 1
	}
	if pageSize > MaxPageSize {
		pageSize = MaxPageSize
	}

	return PageParams{
		Page:     page,
		PageSize: pageSize,
		Offset:   (page - 1) * pageSize,
	}
}

// CalculateMeta computes page metadata for a list of totalItems.
func (p PageParams) CalculateMeta(totalItems int) PageMeta {
	totalPages := (totalItems + p.PageSize - 1) / p.PageSize
	if totalPages < 1 {
		totalPages = 1
	}

	return PageMeta{
		Page:       p.Page,
		PageSize:   p.PageSize,
		TotalPages: totalPages,
		TotalItems: totalItems,
		HasNext:    p.Page < totalPages,
	}
}

// Paginate slices items to the requested page. Pages past the end are empty,
// never nil.
func Paginate[T any](items []T, p PageParams) PaginatedResponse {
	start := p.Offset
	if start > len(items) {
		start = len(items)
	}
	end := start + p.PageSize
	if end > len(items) {
		end = len(items)
	}

	page := make([]T, end-start)
	copy(page, items[start:end])

	return PaginatedResponse{
		Data:       page,
		Pagination: p.CalculateMeta(len(items)),
	}
}

func parseIntParam(r *http.Request, key string, defaultValue int) int {
	valueStr := r.URL.Query().Get(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}

	return value
}
