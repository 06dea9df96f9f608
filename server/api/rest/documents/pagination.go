package documents

import (
	"net/url"
	"strconv"
)

// PaginatedRequest is a search request that can round-trip itself through
// URL query parameters, so a response can link to adjacent pages.
type PaginatedRequest interface {
	GetQuery() url.Values
	FromQuery(url.Values) error
	ForPage(page int) PaginatedRequest
}

// PaginatedResponse is the standard envelope for one page of list results.
type PaginatedResponse struct {
	// Count is the total number of results matching the request across all pages.
	Count int64 `json:"count"`
	// Next is a URL to fetch to obtain the page of results after this one, or null.
	Next *string `json:"next"`
	// Previous is a URL to fetch to obtain the page of results before this one, or null.
	Previous *string `json:"previous"`
	// Results is the set of results for this page, normally an array of objects.
	Results interface{} `json:"results"`
}

func NewPaginatedResponse(
	link string,
	req PaginatedRequest,
	page int,
	pageSize int,
	count int64,
	results interface{}) *PaginatedResponse {
	res := &PaginatedResponse{Count: count, Results: results}
	if req != nil {
		if int64(page)*int64(pageSize) < count {
			next := AddQueryParams(link, req.ForPage(page+1)).String()
			res.Next = &next
		}
		if page > 1 {
			prev := AddQueryParams(link, req.ForPage(page-1)).String()
			res.Previous = &prev
		}
	}
	return res
}

// AddQueryParams returns a new url with the request's query parameters added.
func AddQueryParams(searchURL string, req PaginatedRequest) *url.URL {
	u, err := url.Parse(searchURL)
	if err != nil {
		panic(err)
	}
	query := u.Query()
	for key, value := range req.GetQuery() {
		for _, v := range value {
			query.Set(key, v)
		}
	}
	u.RawQuery = query.Encode()
	return u
}

func setIntQueryParam(values url.Values, key string, value int64) {
	values.Set(key, strconv.FormatInt(value, 10))
}
