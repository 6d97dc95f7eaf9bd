package controlbus

import "testing"

func TestParseChannel(t *testing.T) {
	cases := []struct {
		in   string
		want int
		ok   bool
	}{
		{"channel=0", 0, true},
		{"channel=1", 1, true},
		{"channel=4", 4, true},
		{"channel=12", 12, true},
		{"channel=", 0, false},
		{"channel=-1", 0, false},
		{"channel=1x", 0, false},
		{"chan=1", 0, false},
		{"restart", 0, false},
		{"", 0, false},
	}
	for _, c := range cases {
		got, ok := ParseChannel([]byte(c.in))
		if got != c.want || ok != c.ok {
			t.Errorf("ParseChannel(%q) = %d, %v; want %d, %v", c.in, got, ok, c.want, c.ok)
		}
	}
}

func TestChannelPayload_round_trip(t *testing.T) {
	for _, n := range []int{0, 3, 42} {
		got, ok := ParseChannel(ChannelPayload(n))
		if !ok || got != n {
			t.Errorf("round trip %d: got %d, %v", n, got, ok)
		}
	}
}

func TestNetworkErrorPayload(t *testing.T) {
	if s := string(NetworkErrorPayload(true)); s != "network_error=true" {
		t.Errorf("got %q", s)
	}
	if s := string(NetworkErrorPayload(false)); s != "network_error=false" {
		t.Errorf("got %q", s)
	}
}
