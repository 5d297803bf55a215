// Package paginate computes page windows over ordered result sets.
package paginate

const (
	DefaultPage     = 1
	DefaultPageSize = 50
)

// Page is one window over an ordered result set.
type Page[T any] struct {
	Items      []T   `json:"items"`
	Total      int64 `json:"total"`
	Page       int   `json:"page"`
	PageSize   int   `json:"limit"`
	TotalPages int   `json:"totalPages"`
}

// Normalize clamps page to >= 1 and replaces a non-positive size with defaultSize.
func Normalize(page, size, defaultSize int) (int, int) {
	if page < 1 {
		page = DefaultPage
	}
	if size <= 0 {
		size = defaultSize
	}
	if size <= 0 {
		size = DefaultPageSize
	}
	return page, size
}

// Offset returns the index of the first item on page.
func Offset(page, size int) int {
	page, size = Normalize(page, size, DefaultPageSize)
	return (page - 1) * size
}

// TotalPages returns ceil(total/size); zero items means zero pages.
func TotalPages(total int64, size int) int {
	if total <= 0 || size <= 0 {
		return 0
	}
	return int((total + int64(size) - 1) / int64(size))
}

// Slice cuts the requested window out of the complete ordered set.
// A page beyond the last one yields an empty window, never an error.
func Slice[T any](items []T, page, size int) Page[T] {
	page, size = Normalize(page, size, DefaultPageSize)
	total := int64(len(items))

	window := []T{}
	start := (page - 1) * size
	if start < len(items) {
		end := min(start+size, len(items))
		window = items[start:end]
	}

	return Page[T]{
		Items:      window,
		Total:      total,
		Page:       page,
		PageSize:   size,
		TotalPages: TotalPages(total, size),
	}
}

// From wraps a window that was already cut by the caller, e.g. with LIMIT/OFFSET.
func From[T any](window []T, total int64, page, size int) Page[T] {
	page, size = Normalize(page, size, DefaultPageSize)
	if window == nil {
		window = []T{}
	}
	return Page[T]{
		Items:      window,
		Total:      total,
		Page:       page,
		PageSize:   size,
		TotalPages: TotalPages(total, size),
	}
}
