package pharmacy

import (
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/hazyhaar/medifind/horosafe"
	"github.com/hazyhaar/medifind/quote"
)

var onemgCards = []string{
	"div.style_horizontal-card___1Zwmt",
	"div[class*='horizontal-card']",
	"div.style__horizontal-card___1Zwmt",
}

var onemg = site{
	id:      "1mg",
	baseURL: "https://www.1mg.com",
	searchURL: func(base *url.URL, term string) string {
		u := base.JoinPath("search", "all")
		u.RawQuery = url.Values{"name": {term}}.Encode()
		return u.String()
	},
	waitAny: onemgCards,
	parse:   parseOneMg,
}

// parseOneMg takes the name from the card link title and the price from
// the first price-like element holding an amount.
func parseOneMg(doc *goquery.Document, base *url.URL, limit int) ([]quote.RawItem, error) {
	cards, err := findCards(doc, onemgCards...)
	if err != nil {
		return nil, err
	}

	var items []quote.RawItem
	eachCard(cards, limit, func(card *goquery.Selection) {
		link := card.Find("a").First()
		name, _ := link.Attr("title")
		if strings.TrimSpace(name) == "" {
			name = link.Text()
		}
		href, _ := link.Attr("href")

		var price string
		for _, sel := range []string{"span[class*='price']", "span[class*='mrp']", "div[class*='price']"} {
			if p := firstPrice(card.Find(sel).First().Text()); p != "" {
				price = p
				break
			}
		}

		items = append(items, quote.RawItem{
			Name:      name,
			PriceText: price,
			Link:      horosafe.ResolveLink(base, href),
		})
	})
	return items, nil
}
