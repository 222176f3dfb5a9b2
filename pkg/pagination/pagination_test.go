package pagination

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func paramsFor(t *testing.T, query string) Params {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/"+query, nil)
	return FromContext(e.NewContext(req, httptest.NewRecorder()))
}

func TestFromContext(t *testing.T) {
	tests := []struct {
		name       string
		query      string
		wantLimit  int
		wantOffset int
	}{
		{"defaults", "", DefaultLimit, 0},
		{"custom", "?limit=50&offset=10", 50, 10},
		{"max limit", "?limit=500", MaxLimit, 0},
		{"negative offset", "?offset=-5", DefaultLimit, 0},
		{"page", "?limit=10&page=3", 10, 20},
		{"offset wins over page", "?limit=10&offset=5&page=3", 10, 5},
		{"garbage", "?limit=abc&offset=xyz", DefaultLimit, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := paramsFor(t, tt.query)
			if p.Limit != tt.wantLimit || p.Offset != tt.wantOffset {
				t.Errorf("got limit=%d offset=%d, want %d/%d", p.Limit, p.Offset, tt.wantLimit, tt.wantOffset)
			}
		})
	}
}

func TestParams_Page(t *testing.T) {
	tests := []struct {
		name   string
		params Params
		total  int
		want   Page
	}{
		{"first page", Params{Limit: 20, Offset: 0}, 45, Page{Total: 45, Limit: 20, Offset: 0, HasMore: true, CurrentPage: 1, TotalPages: 3}},
		{"last page", Params{Limit: 20, Offset: 40}, 45, Page{Total: 45, Limit: 20, Offset: 40, HasMore: false, CurrentPage: 3, TotalPages: 3}},
		{"empty", Params{Limit: 20, Offset: 0}, 0, Page{Total: 0, Limit: 20, Offset: 0, CurrentPage: 1, TotalPages: 0}},
		{"exact fit", Params{Limit: 10, Offset: 10}, 20, Page{Total: 20, Limit: 10, Offset: 10, CurrentPage: 2, TotalPages: 2}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.params.Page(tt.total); got != tt.want {
				t.Errorf("got %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestNewResponse(t *testing.T) {
	resp := NewResponse([]string{"a"}, 1, Params{Limit: 20})
	if resp.Pagination.Total != 1 || resp.Pagination.HasMore {
		t.Errorf("unexpected pagination %+v", resp.Pagination)
	}
}

func TestParams_Navigation(t *testing.T) {
	p := Params{Limit: 10, Offset: 10}
	if !p.HasPrevious() || p.NextOffset() != 20 || !p.HasNext(25) || p.HasNext(20) {
		t.Errorf("unexpected navigation for %+v", p)
	}
}
