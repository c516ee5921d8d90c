package pharmacy

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/hazyhaar/medifind/quote"
)

const truemedsCard = "div.sc-a39eeb4f-1.zdA-dE"

var truemeds = site{
	id:      "truemeds",
	baseURL: "https://www.truemeds.in",
	searchURL: func(base *url.URL, term string) string {
		return base.JoinPath("search", escapeTerm(term, "+")).String()
	},
	waitAny: []string{truemedsCard},
	parse:   parseTrueMeds,
}

var productCodeRe = regexp.MustCompile(`TM-[A-Z0-9-]+`)

// parseTrueMeds reads the selling price and falls back to the MRP. Cards
// carry no product link; it is rebuilt from the name and the product code
// found in the image URL. Cards without a code get no link.
func parseTrueMeds(doc *goquery.Document, base *url.URL, limit int) ([]quote.RawItem, error) {
	cards, err := findCards(doc, truemedsCard)
	if err != nil {
		return nil, err
	}

	var items []quote.RawItem
	eachCard(cards, limit, func(card *goquery.Selection) {
		name := firstText(card, "div.sc-a39eeb4f-12.daYLth")
		mfr := firstText(card, "span.sc-a39eeb4f-14.faASZT")

		price := firstPrice(firstText(card, "span.sc-a39eeb4f-17.iwZSqt"))
		if price == "" {
			price = firstPrice(strings.TrimPrefix(firstText(card, "span.sc-a39eeb4f-20.eVOcGs"), "MRP"))
		}

		var link string
		src, _ := card.Find("img[src*='TM-']").First().Attr("src")
		if code := productCodeRe.FindString(src); code != "" && name != "" {
			slug := strings.ReplaceAll(strings.ToLower(name), " ", "-")
			link = base.JoinPath("otc", slug+"-"+strings.ToLower(code)).String()
		}

		if name != "" && mfr != "" {
			name += " by " + mfr
		}
		items = append(items, quote.RawItem{Name: name, PriceText: price, Link: link})
	})
	return items, nil
}
