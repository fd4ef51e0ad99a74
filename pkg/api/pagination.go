package api

import (
	"strconv"

	"github.com/gin-gonic/gin"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// PageRequest represents pagination request parameters
type PageRequest struct {
	Page     int64 `form:"page" json:"page"`
	PageSize int64 `form:"pageSize" json:"pageSize"`
}

// DefaultPageRequest returns a PageRequest with default values
func DefaultPageRequest() PageRequest {
	return PageRequest{Page: 1, PageSize: defaultPageSize}
}

// PageResponse represents a paginated response
type PageResponse[T any] struct {
	Data       []T   `json:"data"`
	Page       int64 `json:"page"`
	PageSize   int64 `json:"pageSize"`
	TotalItems int64 `json:"totalItems"`
	TotalPages int64 `json:"totalPages"`
	HasNext    bool  `json:"hasNext"`
	HasPrev    bool  `json:"hasPrev"`
}

// NewPageResponse creates a new paginated response
func NewPageResponse[T any](data []T, page, pageSize, totalItems int64) PageResponse[T] {
	if data == nil {
		data = []T{}
	}

	totalPages := (totalItems + pageSize - 1) / pageSize
	if totalPages < 1 {
		totalPages = 1
	}

	return PageResponse[T]{
		Data:       data,
		Page:       page,
		PageSize:   pageSize,
		TotalItems: totalItems,
		TotalPages: totalPages,
		HasNext:    page < totalPages,
		HasPrev:    page > 1,
	}
}

// ParsePagination parses pagination parameters from the query string,
// clamping them to sane bounds
func ParsePagination(c *gin.Context) PageRequest {
	page, _ := strconv.ParseInt(c.DefaultQuery("page", "1"), 10, 64)
	pageSize, _ := strconv.ParseInt(c.DefaultQuery("pageSize", strconv.Itoa(defaultPageSize)), 10, 64)
	return Normalize(page, pageSize)
}

// Normalize clamps page and page size
func Normalize(page, pageSize int64) PageRequest {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = defaultPageSize
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	return PageRequest{Page: page, PageSize: pageSize}
}

// GetOffset calculates the offset for database queries
func (p PageRequest) GetOffset() int64 {
	return (p.Page - 1) * p.PageSize
}

// GetLimit returns the page size
func (p PageRequest) GetLimit() int64 {
	return p.PageSize
}
