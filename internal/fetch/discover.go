package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// County is one downloadable extract found on the portal's listing page.
type County struct {
	Number int
	Name   string
}

// ParseListing extracts the county numbers linked from a listing page. A
// link counts when its resolved href starts with productURL, the same prefix
// CountyURL appends numbers to, and the remainder is a positive integer.
// Duplicates keep the first non-empty link text. The result is sorted by
// number.
func ParseListing(r io.Reader, pageURL, productURL string) ([]County, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("parse listing: %w", err)
	}
	base, err := url.Parse(pageURL)
	if err != nil {
		return nil, fmt.Errorf("listing url: %w", err)
	}

	byNum := map[int]string{}
	doc.Find("a[href]").Each(func(_ int, a *goquery.Selection) {
		href, _ := a.Attr("href")
		ref, err := url.Parse(strings.TrimSpace(href))
		if err != nil {
			return
		}
		abs := base.ResolveReference(ref).String()
		rest, ok := strings.CutPrefix(abs, productURL)
		if !ok {
			return
		}
		n, err := strconv.Atoi(strings.TrimSuffix(rest, "/"))
		if err != nil || n <= 0 {
			return
		}
		name := strings.Join(strings.Fields(a.Text()), " ")
		if prev, seen := byNum[n]; !seen || prev == "" {
			byNum[n] = name
		}
	})

	out := make([]County, 0, len(byNum))
	for n, name := range byNum {
		out = append(out, County{Number: n, Name: name})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Number < out[j].Number })
	return out, nil
}

// Discover downloads the listing page at pageURL and returns the counties it
// links to under BaseURL. A challenge page is reported as ErrChallenge.
func (f *Fetcher) Discover(ctx context.Context, pageURL string) ([]County, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, err
	}
	ua := f.UserAgent
	if ua == "" {
		ua = DefaultUserAgent
	}
	req.Header.Set("User-Agent", ua)
	req.Header.Set("Accept", "text/html,application/xhtml+xml;q=0.9,*/*;q=0.8")

	resp, err := f.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("discover: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("discover: %s returned %d", pageURL, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, fmt.Errorf("discover: read body: %w", err)
	}
	if IsChallengePage(body) {
		return nil, fmt.Errorf("discover: %w", ErrChallenge)
	}
	counties, err := ParseListing(strings.NewReader(string(body)), pageURL, f.BaseURL)
	if err != nil {
		return nil, err
	}
	if len(counties) == 0 {
		return nil, fmt.Errorf("discover: no county links under %s", f.BaseURL)
	}
	return counties, nil
}

// Numbers returns the county numbers of cs in order.
func Numbers(cs []County) []int {
	out := make([]int, len(cs))
	for i, c := range cs {
		out[i] = c.Number
	}
	return out
}
