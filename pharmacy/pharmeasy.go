package pharmacy

import (
	"net/url"

	"github.com/PuerkitoBio/goquery"

	"github.com/hazyhaar/medifind/horosafe"
	"github.com/hazyhaar/medifind/quote"
)

var pharmeasy = site{
	id:      "pharmeasy",
	baseURL: "https://pharmeasy.in",
	searchURL: func(base *url.URL, term string) string {
		u := base.JoinPath("search", "all")
		u.RawQuery = url.Values{"name": {term}}.Encode()
		return u.String()
	},
	parse: parsePharmEasy,
}

// parsePharmEasy reads the discounted price and falls back to the MRP.
func parsePharmEasy(doc *goquery.Document, base *url.URL, limit int) ([]quote.RawItem, error) {
	cards, err := findCards(doc,
		"div[class*='ProductCard_productCard__']",
		"div[class*='ProductCard_medicineUnitContainer']",
	)
	if err != nil {
		return nil, err
	}

	var items []quote.RawItem
	eachCard(cards, limit, func(card *goquery.Selection) {
		href, _ := card.Find("a[class*='ProductCard_defaultWrapper'], a[href]").First().Attr("href")
		items = append(items, quote.RawItem{
			Name: firstText(card,
				"h1[class*='ProductCard_medicineName']",
				"a[class*='ProductCard_defaultWrapper']",
			),
			PriceText: firstPrice(firstText(card,
				"div[class*='ProductCard_gcdDiscountContainer']",
				"div[class*='ProductCard_ourPrice']",
				"div[class*='ProductCard_mrp']",
				"span",
			)),
			Link: horosafe.ResolveLink(base, href),
		})
	})
	return items, nil
}
