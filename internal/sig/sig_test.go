package sig

import "testing"

func TestLoadAndLookup(t *testing.T) {
	db, err := Load([]byte(`{"0x004C":"Apple, Inc.","117":" Samsung "}`))
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if got := db.Lookup(0x004C); got != "Apple, Inc." {
		t.Fatalf("expected Apple, got %s", got)
	}
	if got := db.Lookup(0x0075); got != "Samsung" {
		t.Fatalf("expected Samsung, got %s", got)
	}
	if got := db.Lookup(0xFFFF); got != "Unknown" {
		t.Fatalf("expected Unknown, got %s", got)
	}
}

func TestLoadRejectsBadKeys(t *testing.T) {
	if _, err := Load([]byte(`{"apple":"Apple"}`)); err == nil {
		t.Fatalf("expected error for non numeric key")
	}
}

func TestEmbeddedTableKnowsApple(t *testing.T) {
	db, err := LoadEmbedded()
	if err != nil {
		t.Fatalf("load embedded: %v", err)
	}
	if got := db.Lookup(0x004C); got != "Apple, Inc." {
		t.Fatalf("expected Apple, got %s", got)
	}
}
