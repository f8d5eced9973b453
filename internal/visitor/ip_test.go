package visitor

import (
	"errors"
	"testing"

	"github.com/developingchet/shieldon-filestore/internal/storage"
)

func TestCanonical(t *testing.T) {
	cases := []struct {
		input   string
		want    string
		wantErr bool
	}{
		{"1.2.3.4", "1.2.3.4", false},
		{" 1.2.3.4\n", "1.2.3.4", false},
		{"::ffff:1.2.3.4", "1.2.3.4", false}, // IPv4-mapped IPv6 normalized
		{"2001:db8::1", "2001:db8::1", false},
		{"2001:0db8:0000:0000:0000:0000:0000:0001", "2001:db8::1", false},
		{"2001:DB8::1", "2001:db8::1", false},
		{"192.168.1.0/24", "", true},
		{"not-an-ip", "", true},
		{"300.1.1.1", "", true},
		{"", "", true},
	}
	for _, c := range cases {
		got, err := Canonical(c.input)
		if c.wantErr {
			if err == nil {
				t.Errorf("Canonical(%q): expected error", c.input)
			}
			continue
		}
		if err != nil {
			t.Errorf("Canonical(%q): unexpected error: %v", c.input, err)
			continue
		}
		if got != c.want {
			t.Errorf("Canonical(%q): got %q, want %q", c.input, got, c.want)
		}
	}
}

func TestKey(t *testing.T) {
	if got, err := Key(storage.TableRule, "::ffff:203.0.113.9"); err != nil || got != "203.0.113.9" {
		t.Errorf("rule key: got %q, %v", got, err)
	}
	if got, err := Key(storage.TableFilter, "2001:0db8::0001"); err != nil || got != "2001:db8::1" {
		t.Errorf("filter key: got %q, %v", got, err)
	}
	if got, err := Key(storage.TableSession, "AbC:123/x"); err != nil || got != "AbC:123/x" {
		t.Errorf("session key should pass through: got %q, %v", got, err)
	}
	if _, err := Key(storage.TableSession, ""); err == nil {
		t.Error("empty session id should be rejected")
	}
	if _, err := Key(storage.TableRule, "nope"); err == nil {
		t.Error("invalid rule IP should be rejected")
	}
	if _, err := Key("meta", "1.2.3.4"); !errors.Is(err, storage.ErrInvalidTable) {
		t.Errorf("unknown table: got %v", err)
	}
}

func TestIsIPv6(t *testing.T) {
	if IsIPv6("1.2.3.4") {
		t.Error("1.2.3.4 should not be IPv6")
	}
	if IsIPv6("::ffff:1.2.3.4") {
		t.Error("IPv4-mapped address should not be IPv6")
	}
	if !IsIPv6("2001:db8::1") {
		t.Error("2001:db8::1 should be IPv6")
	}
	if IsIPv6("garbage") {
		t.Error("garbage should not be IPv6")
	}
}

func TestIsPrivate(t *testing.T) {
	privates := []string{
		"10.0.0.1", "172.16.0.1", "192.168.1.1",
		"127.0.0.1", "169.254.0.1", "100.64.1.1",
		"::1", "fe80::1", "fd00::1", "::ffff:10.1.2.3",
	}
	for _, ip := range privates {
		if !IsPrivate(ip) {
			t.Errorf("%s should be private", ip)
		}
	}
	publics := []string{"8.8.8.8", "203.0.113.5", "2001:4860:4860::8888", "not-an-ip"}
	for _, ip := range publics {
		if IsPrivate(ip) {
			t.Errorf("%s should not be private", ip)
		}
	}
}
