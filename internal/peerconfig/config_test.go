package peerconfig

import "testing"

func TestParseValid(t *testing.T) {
	cfg, err := Parse("peer", []string{
		"-id", "1",
		"-port", "9001",
		"-clients", "2=localhost:9002,3=localhost:9003",
		"-server", "localhost:50051",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.ID != 1 || cfg.ListenPort != "9001" || cfg.PrinterAddr != "localhost:50051" {
		t.Fatalf("unexpected config: %+v", cfg)
	}
	if len(cfg.Peers) != 2 || cfg.Peers[0] != (PeerAddr{ID: 2, Addr: "localhost:9002"}) {
		t.Fatalf("unexpected peers: %+v", cfg.Peers)
	}
}

func TestParseEmptyClientsMeansSinglePeer(t *testing.T) {
	cfg, err := Parse("peer", []string{
		"-id", "1", "-port", "9001", "-clients", "", "-server", "localhost:50051",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(cfg.Peers) != 0 {
		t.Fatalf("expected no peers, got %+v", cfg.Peers)
	}
}

func TestParseRejectsMissingRequired(t *testing.T) {
	cases := [][]string{
		{"-port", "9001", "-clients", "", "-server", "x"},
		{"-id", "1", "-clients", "", "-server", "x"},
		{"-id", "1", "-port", "9001", "-clients", ""},
	}
	for _, args := range cases {
		if _, err := Parse("peer", args); err == nil {
			t.Fatalf("expected error for args %v", args)
		}
	}
}

func TestParseRejectsSelfInClients(t *testing.T) {
	_, err := Parse("peer", []string{
		"-id", "1", "-port", "9001", "-clients", "1=localhost:9001", "-server", "x",
	})
	if err == nil {
		t.Fatal("expected error when -clients includes this peer's own id")
	}
}

func TestParseRejectsMalformedClients(t *testing.T) {
	badInputs := []string{
		"localhost:9002",
		"abc=localhost:9002",
		"2=",
		"2=localhost:9002,2=localhost:9003",
	}
	for _, clients := range badInputs {
		_, err := Parse("peer", []string{
			"-id", "1", "-port", "9001", "-clients", clients, "-server", "x",
		})
		if err == nil {
			t.Fatalf("expected error for -clients=%q", clients)
		}
	}
}
