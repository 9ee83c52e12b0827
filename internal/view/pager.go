package view

import (
	"net/http"
	"net/url"
	"strconv"

	"github.com/vigil-sec/vigil/internal/shared"
)

// Pager is the pagination partial's input. Links keep the current query
// string and only swap the page parameter.
type Pager struct {
	shared.Pagination
	PrevURL string
	NextURL string
}

// NewPager builds the prev/next links for the request's path.
func NewPager(r *http.Request, p shared.Pagination) Pager {
	pager := Pager{Pagination: p}
	if p.HasPrev() {
		pager.PrevURL = pageURL(r.URL, p.PrevPage())
	}
	if p.HasNext() {
		pager.NextURL = pageURL(r.URL, p.NextPage())
	}
	return pager
}

func pageURL(u *url.URL, page int) string {
	q := u.Query()
	q.Set("page", strconv.Itoa(page))
	return u.Path + "?" + q.Encode()
}
