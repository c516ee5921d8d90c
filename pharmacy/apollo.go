package pharmacy

import (
	"net/url"

	"github.com/PuerkitoBio/goquery"

	"github.com/hazyhaar/medifind/horosafe"
	"github.com/hazyhaar/medifind/quote"
)

var apollo = site{
	id:      "apollo",
	baseURL: "https://www.apollopharmacy.in",
	searchURL: func(base *url.URL, term string) string {
		return base.JoinPath("search-medicines", escapeTerm(term, "-")).String()
	},
	parse: parseApollo,
}

func parseApollo(doc *goquery.Document, base *url.URL, limit int) ([]quote.RawItem, error) {
	cards, err := findCards(doc, "div[class*='ProductCard_productCardGrid']")
	if err != nil {
		return nil, err
	}

	var items []quote.RawItem
	eachCard(cards, limit, func(card *goquery.Selection) {
		href, _ := card.Find("a[href*='/otc/'], a[href*='/medicine/']").First().Attr("href")
		items = append(items, quote.RawItem{
			Name:      firstText(card, "div.zb h2.jR", "h2"),
			PriceText: firstPrice(firstText(card, "span.zL_", "p.oR.hR", "[class*='price']")),
			Link:      horosafe.ResolveLink(base, href),
		})
	})
	return items, nil
}
