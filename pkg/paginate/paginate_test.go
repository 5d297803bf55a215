package paginate

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSlice(t *testing.T) {
	items := []int{1, 2, 3, 4, 5, 6, 7}

	tests := []struct {
		name       string
		page, size int
		want       []int
		totalPages int
	}{
		{"first page", 1, 3, []int{1, 2, 3}, 3},
		{"middle page", 2, 3, []int{4, 5, 6}, 3},
		{"short last page", 3, 3, []int{7}, 3},
		{"beyond last page", 4, 3, []int{}, 3},
		{"far beyond", 99, 10, []int{}, 1},
		{"page zero clamps to first", 0, 5, []int{1, 2, 3, 4, 5}, 2},
		{"negative size uses default", 1, -1, items, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Slice(items, tt.page, tt.size)
			assert.Equal(t, tt.want, got.Items)
			assert.Equal(t, int64(len(items)), got.Total)
			assert.Equal(t, tt.totalPages, got.TotalPages)
		})
	}
}

func TestSliceEmpty(t *testing.T) {
	got := Slice([]string{}, 1, 10)
	assert.Empty(t, got.Items)
	assert.NotNil(t, got.Items)
	assert.Equal(t, int64(0), got.Total)
	assert.Equal(t, 0, got.TotalPages)
}

func TestTotalPages(t *testing.T) {
	assert.Equal(t, 0, TotalPages(0, 10))
	assert.Equal(t, 1, TotalPages(3, 10))
	assert.Equal(t, 1, TotalPages(10, 10))
	assert.Equal(t, 2, TotalPages(11, 10))
	assert.Equal(t, 0, TotalPages(5, 0))
}

func TestOffsetAndFrom(t *testing.T) {
	assert.Equal(t, 0, Offset(1, 50))
	assert.Equal(t, 100, Offset(3, 50))
	assert.Equal(t, 0, Offset(-2, 50))

	p := From[string](nil, 3, 99, 10)
	assert.NotNil(t, p.Items)
	assert.Equal(t, 99, p.Page)
	assert.Equal(t, 1, p.TotalPages)
}
