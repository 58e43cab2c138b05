package utils

import (
	"net/http/httptest"
	"testing"
)

func TestAllowList(t *testing.T) {
	list, err := ParseAllowList([]string{"185.71.76.0/27", " 77.75.156.11 ", "::1", ""})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	cases := map[string]bool{
		"185.71.76.5":  true,
		"185.71.76.40": false,
		"77.75.156.11": true,
		"77.75.156.12": false,
		"::1":          true,
		"not-an-ip":    false,
	}
	for ip, want := range cases {
		if got := list.Contains(ip); got != want {
			t.Errorf("Contains(%q) = %v, want %v", ip, got, want)
		}
	}

	if _, err := ParseAllowList([]string{"10.0.0.0/33"}); err == nil {
		t.Fatalf("expected error for bad cidr")
	}
}

func TestRemoteIP(t *testing.T) {
	r := httptest.NewRequest("POST", "/", nil)
	r.RemoteAddr = "10.1.2.3:5555"
	if got := RemoteIP(r); got != "10.1.2.3" {
		t.Fatalf("unexpected ip %q", got)
	}
}
