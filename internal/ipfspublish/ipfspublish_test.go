package ipfspublish

import "testing"

func TestNewWithEmptyAPIDisablesArchival(t *testing.T) {
	p, err := New("", "https://gw.example/ipfs")
	if err != nil || p != nil {
		t.Fatalf("New(\"\") = %v, %v, want nil, nil", p, err)
	}
	if p.GatewayURL("bafy...") != "" {
		t.Fatal("disabled publisher must return empty gateway URL")
	}
	if _, err := p.PublishFile("whatever"); err == nil {
		t.Fatal("disabled publisher must error on PublishFile")
	}
}

func TestNormalizeAPIVariants(t *testing.T) {
	cases := map[string]string{
		"http://127.0.0.1:5001":      "127.0.0.1:5001",
		"https://ipfs.local/api/v0":  "ipfs.local",
		"/ip4/127.0.0.1/tcp/5001":    "127.0.0.1:5001",
		"  127.0.0.1:5001/  ":        "127.0.0.1:5001",
	}
	for in, want := range cases {
		if got := normalizeAPI(in); got != want {
			t.Fatalf("normalizeAPI(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestGatewayURL(t *testing.T) {
	p := &Publisher{gateway: "https://gw.example/ipfs"}
	if got := p.GatewayURL("bafyCID"); got != "https://gw.example/ipfs/bafyCID" {
		t.Fatalf("GatewayURL = %q", got)
	}
}

func TestPublishDeltaFileDisabledArchival(t *testing.T) {
	var p *Publisher
	if _, _, err := p.PublishDeltaFile("whatever", 1, 100, 0); err == nil {
		t.Fatal("disabled publisher must error on PublishDeltaFile")
	}
}
