package pharmacy

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/hazyhaar/medifind/quote"
	"github.com/hazyhaar/medifind/search"
	"github.com/hazyhaar/medifind/source"
)

func fixture(t *testing.T, name string) []byte {
	t.Helper()
	data, err := os.ReadFile("testdata/" + name)
	if err != nil {
		t.Fatalf("read fixture: %v", err)
	}
	return data
}

func fixtureDoc(t *testing.T, name string) *goquery.Document {
	t.Helper()
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(fixture(t, name)))
	if err != nil {
		t.Fatalf("parse fixture: %v", err)
	}
	return doc
}

func mustURL(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("parse url: %v", err)
	}
	return u
}

type wantItem struct {
	name, price, link string
}

func checkItems(t *testing.T, got []quote.RawItem, want []wantItem) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("got %d items, want %d: %+v", len(got), len(want), got)
	}
	for i, w := range want {
		g := got[i]
		if g.Name != w.name || g.PriceText != w.price || g.Link != w.link {
			t.Errorf("item %d: got {%q %q %q}, want {%q %q %q}",
				i, g.Name, g.PriceText, g.Link, w.name, w.price, w.link)
		}
	}
}

func TestParseApollo(t *testing.T) {
	// WHAT: Apollo cards yield name, first amount and absolute /otc/ link.
	base := mustURL(t, "https://www.apollopharmacy.in")
	items, err := parseApollo(fixtureDoc(t, "apollo.html"), base, 5)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	checkItems(t, items, []wantItem{
		{"Dolo 650 Tablet 15's", "30.25", "https://www.apollopharmacy.in/otc/dolo-650mg-tablet-15s"},
		{"Dolo 650 Strip", "1,234.50", "https://www.apollopharmacy.in/otc/dolo-650-strip"},
		{"Dolo Kit", "", "https://www.apollopharmacy.in/otc/dolo-kit"},
	})
}

func TestParsePharmEasy_FallsBackToMRP(t *testing.T) {
	// WHAT: The discounted price wins; cards without one use the MRP.
	base := mustURL(t, "https://pharmeasy.in")
	items, err := parsePharmEasy(fixtureDoc(t, "pharmeasy.html"), base, 5)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	checkItems(t, items, []wantItem{
		{"Dolo 650mg Strip Of 15 Tablets", "27.22", "https://pharmeasy.in/online-medicine-order/dolo-650mg-strip-of-15-tablets-44140"},
		{"Dolo 500 Tablet", "18.50", "https://pharmeasy.in/online-medicine-order/dolo-500"},
	})
}

func TestParseOneMg(t *testing.T) {
	// WHAT: The link title is preferred over link text for the name.
	base := mustURL(t, "https://www.1mg.com")
	items, err := parseOneMg(fixtureDoc(t, "1mg.html"), base, 5)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	checkItems(t, items, []wantItem{
		{"Dolo 650 Tablet", "28.50", "https://www.1mg.com/otc/dolo-650-tablet-otc123"},
		{"Dolo 650mg", "30.91", "https://www.1mg.com/drugs/dolo-650-mg-tablet-74467"},
	})
}

func TestParseTrueMeds(t *testing.T) {
	// WHAT: Names carry the manufacturer, links are rebuilt from the product
	// code, and the MRP is used when no selling price is shown.
	base := mustURL(t, "https://www.truemeds.in")
	items, err := parseTrueMeds(fixtureDoc(t, "truemeds.html"), base, 5)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	checkItems(t, items, []wantItem{
		{"Dolo 650 Mg Tablet 15 by Micro Labs Ltd", "28.00", "https://www.truemeds.in/otc/dolo-650-mg-tablet-15-tm-tacr1-011691"},
		{"Dolo 500 Tablet", "15.20", "https://www.truemeds.in/otc/dolo-500-tablet-tm-tacr1-000500"},
		{"Mystery Syrup", "99.00", ""},
	})
}

func TestParse_Limit(t *testing.T) {
	// WHAT: No more than limit cards are read.
	items, err := parseApollo(fixtureDoc(t, "apollo.html"), mustURL(t, "https://a.example"), 2)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(items) != 2 {
		t.Errorf("got %d items, want 2", len(items))
	}
}

func TestParse_NoCards(t *testing.T) {
	// WHAT: A page without product cards is an error, not an empty list.
	// WHY: A changed layout must surface as a source failure.
	doc, _ := goquery.NewDocumentFromReader(strings.NewReader("<html><body><p>Captcha</p></body></html>"))
	for name, parse := range map[string]func(*goquery.Document, *url.URL, int) ([]quote.RawItem, error){
		"apollo":    parseApollo,
		"pharmeasy": parsePharmEasy,
		"1mg":       parseOneMg,
		"truemeds":  parseTrueMeds,
	} {
		if _, err := parse(doc, mustURL(t, "https://a.example"), 5); !errors.Is(err, ErrNoCards) {
			t.Errorf("%s: got %v, want ErrNoCards", name, err)
		}
	}
}

func TestSearchURLs(t *testing.T) {
	// WHAT: Each site gets the search URL shape it serves.
	cases := []struct {
		s    site
		want string
	}{
		{apollo, "https://www.apollopharmacy.in/search-medicines/dolo-650"},
		{pharmeasy, "https://pharmeasy.in/search/all?name=dolo+650"},
		{onemg, "https://www.1mg.com/search/all?name=dolo+650"},
		{truemeds, "https://www.truemeds.in/search/dolo+650"},
	}
	for _, c := range cases {
		if got := c.s.searchURL(mustURL(t, c.s.baseURL), "dolo 650"); got != c.want {
			t.Errorf("%s: got %q, want %q", c.s.id, got, c.want)
		}
	}
}

type fakeRenderer struct {
	mu    sync.Mutex
	pages map[string][]byte // by host
	waits [][]string
}

func (f *fakeRenderer) Render(ctx context.Context, pageURL string, waitAny ...string) (string, error) {
	u, err := url.Parse(pageURL)
	if err != nil {
		return "", err
	}
	f.mu.Lock()
	f.waits = append(f.waits, waitAny)
	f.mu.Unlock()
	page, ok := f.pages[u.Host]
	if !ok {
		return "", errors.New("navigation failed")
	}
	return string(page), nil
}

func testServer(t *testing.T) *httptest.Server {
	t.Helper()
	apolloHTML := fixture(t, "apollo.html")
	pharmeasyHTML := fixture(t, "pharmeasy.html")
	mux := http.NewServeMux()
	mux.HandleFunc("/search-medicines/", func(w http.ResponseWriter, r *http.Request) {
		w.Write(apolloHTML)
	})
	mux.HandleFunc("/search/all", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("name") == "" {
			http.Error(w, "missing name", http.StatusBadRequest)
			return
		}
		w.Write(pharmeasyHTML)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func testConfig(srvURL string) *search.Config {
	cfg := search.DefaultConfig()
	cfg.HTTP.RatePerSecond = 1000
	cfg.HTTP.Burst = 10
	for i := range cfg.Sources {
		switch cfg.Sources[i].ID {
		case "apollo", "pharmeasy":
			cfg.Sources[i].BaseURL = srvURL
		case "1mg":
			cfg.Sources[i].BaseURL = "https://1mg.test"
		case "truemeds":
			cfg.Sources[i].BaseURL = "https://truemeds.test"
		}
	}
	return cfg
}

func testBackends(t *testing.T, cfg *search.Config, r Renderer) *Backends {
	t.Helper()
	b, err := NewBackends(cfg, nil)
	if err != nil {
		t.Fatalf("NewBackends: %v", err)
	}
	t.Cleanup(func() { b.Close() })
	b.Browser = r
	return b
}

func TestRegister_DefaultSources(t *testing.T) {
	// WHAT: Every default source registers with its class and fixed fee.
	cfg := search.DefaultConfig()
	reg := source.NewRegistry()
	if err := Register(reg, cfg, testBackends(t, cfg, &fakeRenderer{}), nil); err != nil {
		t.Fatalf("Register: %v", err)
	}

	want := map[quote.SourceID]struct {
		class source.Class
		fee   string
	}{
		"apollo":    {source.Lightweight, "40.00"},
		"pharmeasy": {source.Lightweight, "50.00"},
		"1mg":       {source.Heavyweight, "25.00"},
		"truemeds":  {source.Heavyweight, "35.00"},
	}
	for id, w := range want {
		r, err := reg.Get(id)
		if err != nil {
			t.Fatalf("Get(%s): %v", id, err)
		}
		if r.Class != w.class {
			t.Errorf("%s: got class %v, want %v", id, r.Class, w.class)
		}
		if got := r.DeliveryFee.StringFixed(2); got != w.fee {
			t.Errorf("%s: got fee %s, want %s", id, got, w.fee)
		}
	}
}

func TestRegister_SkipsDisabled(t *testing.T) {
	// WHAT: Disabled sources are not registered.
	cfg := search.DefaultConfig()
	cfg.Sources[0].Disabled = true
	reg := source.NewRegistry()
	if err := Register(reg, cfg, testBackends(t, cfg, &fakeRenderer{}), nil); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if _, err := reg.Get(quote.SourceID(cfg.Sources[0].ID)); !errors.Is(err, source.ErrUnknownSource) {
		t.Errorf("got %v, want ErrUnknownSource", err)
	}
}

func TestRegister_UnknownPharmacy(t *testing.T) {
	// WHAT: A configured id with no adapter is a startup error.
	cfg := search.DefaultConfig()
	cfg.Sources = append(cfg.Sources, search.SourceConfig{ID: "netmeds", Class: "light", Timeout: time.Second})
	err := Register(source.NewRegistry(), cfg, testBackends(t, cfg, &fakeRenderer{}), nil)
	if !errors.Is(err, ErrUnknownPharmacy) {
		t.Errorf("got %v, want ErrUnknownPharmacy", err)
	}
}

func TestRegister_HeavyWithoutBrowser(t *testing.T) {
	// WHAT: A heavyweight source needs a browser backend.
	cfg := search.DefaultConfig()
	b := testBackends(t, cfg, nil)
	if err := Register(source.NewRegistry(), cfg, b, nil); err == nil {
		t.Error("expected error")
	}
}

func TestAdapter_HTTPPath(t *testing.T) {
	// WHAT: A lightweight adapter fetches over HTTP, resolves links against
	// the configured base and tags items with its source id.
	srv := testServer(t)
	cfg := testConfig(srv.URL)
	reg := source.NewRegistry()
	if err := Register(reg, cfg, testBackends(t, cfg, &fakeRenderer{}), nil); err != nil {
		t.Fatalf("Register: %v", err)
	}
	r, _ := reg.Get("apollo")
	q, _ := quote.NewQuery("Dolo 650", 0)

	items, err := r.Adapter.Fetch(context.Background(), q)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(items) != 3 {
		t.Fatalf("got %d items, want 3", len(items))
	}
	if items[0].Source != "apollo" {
		t.Errorf("got source %q, want apollo", items[0].Source)
	}
	if want := srv.URL + "/otc/dolo-650mg-tablet-15s"; items[0].Link != want {
		t.Errorf("got link %q, want %q", items[0].Link, want)
	}
}

func TestAdapter_BrowserPathWaitsForCards(t *testing.T) {
	// WHAT: A heavyweight adapter renders through the browser and passes the
	// card selectors to wait on.
	cfg := testConfig("https://unused.test")
	fr := &fakeRenderer{pages: map[string][]byte{"1mg.test": fixture(t, "1mg.html")}}
	reg := source.NewRegistry()
	if err := Register(reg, cfg, testBackends(t, cfg, fr), nil); err != nil {
		t.Fatalf("Register: %v", err)
	}
	r, _ := reg.Get("1mg")
	q, _ := quote.NewQuery("dolo 650", 0)

	items, err := r.Adapter.Fetch(context.Background(), q)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("got %d items, want 2", len(items))
	}
	if len(fr.waits) != 1 || len(fr.waits[0]) != len(onemgCards) {
		t.Errorf("got waits %v, want %v", fr.waits, onemgCards)
	}
}

func TestAdapter_RenderFailure(t *testing.T) {
	// WHAT: A browser failure surfaces as the adapter's error.
	cfg := testConfig("https://unused.test")
	reg := source.NewRegistry()
	if err := Register(reg, cfg, testBackends(t, cfg, &fakeRenderer{}), nil); err != nil {
		t.Fatalf("Register: %v", err)
	}
	r, _ := reg.Get("truemeds")
	q, _ := quote.NewQuery("dolo", 0)
	if _, err := r.Adapter.Fetch(context.Background(), q); err == nil {
		t.Error("expected error")
	}
}

func TestSearch_AllPharmacies(t *testing.T) {
	// WHAT: A search across the four pharmacies merges every valid item,
	// applies each source's fee and sorts by total.
	// WHY: Exercises the adapters through the real scheduler and normalizer.
	srv := testServer(t)
	cfg := testConfig(srv.URL)
	fr := &fakeRenderer{pages: map[string][]byte{
		"1mg.test":      fixture(t, "1mg.html"),
		"truemeds.test": fixture(t, "truemeds.html"),
	}}
	reg := source.NewRegistry()
	if err := Register(reg, cfg, testBackends(t, cfg, fr), nil); err != nil {
		t.Fatalf("Register: %v", err)
	}
	svc := search.New(cfg, reg)

	resp, err := svc.Search(context.Background(), search.Request{Query: "Dolo 650"})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if resp.Partial {
		t.Errorf("got partial, want complete: %+v", resp.Sources)
	}

	want := []struct {
		source quote.SourceID
		total  string
	}{
		{"truemeds", "50.20"},
		{"1mg", "53.50"},
		{"1mg", "55.91"},
		{"truemeds", "63.00"},
		{"pharmeasy", "68.50"},
		{"apollo", "70.25"},
		{"pharmeasy", "77.22"},
		{"apollo", "1274.50"},
	}
	if len(resp.Items) != len(want) {
		t.Fatalf("got %d items, want %d: %+v", len(resp.Items), len(want), resp.Items)
	}
	for i, w := range want {
		got := resp.Items[i]
		if got.Source != w.source || got.Total().StringFixed(2) != w.total {
			t.Errorf("item %d: got %s %s, want %s %s",
				i, got.Source, got.Total().StringFixed(2), w.source, w.total)
		}
	}
}
