// Package links builds verification links for an identified coin.
package links

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/menta2k/coin-id/pkg/types"
)

// Link is a named outbound URL.
type Link struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

type site struct {
	name   string
	prefix string
	suffix string
}

var sites = []site{
	{name: "Numista", prefix: "https://en.numista.com/catalogue/index.php?q="},
	{name: "MA-Shops", prefix: "https://www.ma-shops.de/result.php?searchstr="},
	{name: "Google Images", prefix: "https://www.google.com/search?q=", suffix: "&tbm=isch"},
	{name: "eBay", prefix: "https://www.ebay.com/sch/i.html?_nkw="},
}

// Query is the search text: identification, trade keywords and the diameter
// with one decimal, e.g. "Austria 1 Schilling 1959 aluminium 25.0mm".
func Query(id types.Identification, diameterMM float64) string {
	parts := make([]string, 0, 3)
	if title := strings.TrimSpace(id.Title()); title != "" {
		parts = append(parts, title)
	}
	if kw := strings.TrimSpace(id.Keywords); kw != "" {
		parts = append(parts, kw)
	}
	if len(parts) > 0 && diameterMM > 0 {
		parts = append(parts, fmt.Sprintf("%.1fmm", diameterMM))
	}
	return strings.Join(parts, " ")
}

// Build returns one link per catalogue or marketplace, or nil when the
// identification is empty.
func Build(id types.Identification, diameterMM float64) []Link {
	q := Query(id, diameterMM)
	if q == "" {
		return nil
	}
	enc := escape(q)
	out := make([]Link, 0, len(sites))
	for _, s := range sites {
		out = append(out, Link{Name: s.name, URL: s.prefix + enc + s.suffix})
	}
	return out
}

// escape percent-encodes spaces as %20 rather than '+'.
func escape(q string) string {
	return strings.ReplaceAll(url.QueryEscape(q), "+", "%20")
}
