package horosafe

import (
	"errors"
	"net/url"
	"strings"
	"testing"
)

func TestCheckAbsoluteURL(t *testing.T) {
	tests := []struct {
		url     string
		wantErr bool
	}{
		{"https://www.apollopharmacy.in/otc/dolo-650", false},
		{"http://pharmeasy.in/x", false},
		{"/otc/dolo-650", true},
		{"ftp://example.com/file", true},
		{"javascript:alert(1)", true},
		{"https://", true},
		{"", true},
	}
	for _, tt := range tests {
		err := CheckAbsoluteURL(tt.url)
		if (err != nil) != tt.wantErr {
			t.Errorf("CheckAbsoluteURL(%q) error=%v, wantErr=%v", tt.url, err, tt.wantErr)
		}
	}
}

func TestResolveLink(t *testing.T) {
	base, _ := url.Parse("https://www.apollopharmacy.in/search-medicines/dolo-650")
	tests := []struct {
		href, want string
	}{
		{"/otc/dolo-650mg", "https://www.apollopharmacy.in/otc/dolo-650mg"},
		{"https://other.example/p", "https://other.example/p"},
		{"  ", ""},
	}
	for _, tt := range tests {
		if got := ResolveLink(base, tt.href); got != tt.want {
			t.Errorf("ResolveLink(%q): got %q, want %q", tt.href, got, tt.want)
		}
	}
}

func TestLimitedReadAll(t *testing.T) {
	data, err := LimitedReadAll(strings.NewReader("hello"), 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(data) != "hello" {
		t.Fatalf("data: got %q", data)
	}

	_, err = LimitedReadAll(strings.NewReader(strings.Repeat("x", 20)), 10)
	if !errors.Is(err, ErrResponseTooLarge) {
		t.Fatalf("error: got %v, want ErrResponseTooLarge", err)
	}
}
