package eventlog

import (
	"bytes"
	"testing"
)

func TestKeyOrderingEntries(t *testing.T) {
	a := KeyEntry(10)
	b := KeyEntry(11)
	c := KeyEntry(256)
	if bytes.Compare(a, b) >= 0 || bytes.Compare(b, c) >= 0 {
		t.Fatalf("expected big-endian ordering 10 < 11 < 256")
	}
	if seqFromEntryKey(c) != 256 {
		t.Fatalf("seq roundtrip: %d", seqFromEntryKey(c))
	}
}

func TestStreamIndexLayout(t *testing.T) {
	k := KeyStreamIndex("orders-1", 3)
	if !bytes.HasPrefix(k, []byte("log/x/orders-1/")) {
		t.Fatalf("unexpected index layout: %q", string(k))
	}
	if bytes.HasPrefix(KeyStreamIndex("orders-10", 1), KeyStreamIndexPrefix("orders-1")) {
		t.Fatalf("prefix of orders-1 must not cover orders-10")
	}
}
