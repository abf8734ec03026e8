package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func testKeeper(t *testing.T) (*Keeper, string) {
	t.Helper()
	dir := t.TempDir()
	keyPath := filepath.Join(dir, "credentials.key")
	k, err := LoadKeeper(keyPath)
	if err != nil {
		t.Fatalf("load keeper: %v", err)
	}
	return k, dir
}

func TestKeeper_SealOpenRoundTrip(t *testing.T) {
	k, _ := testKeeper(t)

	sealed, err := k.Seal("sk-secret-value")
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	if strings.Contains(sealed, "sk-secret-value") {
		t.Fatalf("sealed value leaks plaintext: %q", sealed)
	}

	plain, err := k.Open(sealed)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if plain != "sk-secret-value" {
		t.Fatalf("round trip mismatch: %q", plain)
	}
}

func TestKeeper_BlankStaysBlank(t *testing.T) {
	k, _ := testKeeper(t)

	sealed, err := k.Seal("")
	if err != nil || sealed != "" {
		t.Fatalf("expected blank seal, got %q err=%v", sealed, err)
	}
	plain, err := k.Open("")
	if err != nil || plain != "" {
		t.Fatalf("expected blank open, got %q err=%v", plain, err)
	}
}

func TestKeeper_TamperedValueRejected(t *testing.T) {
	k, _ := testKeeper(t)

	sealed, err := k.Seal("value")
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	if _, err := k.Open("AAAA" + sealed[4:]); err == nil {
		t.Fatalf("expected tampered value to fail authentication")
	}
}

func TestLoadKeeper_PersistsAndRejectsMalformed(t *testing.T) {
	k, dir := testKeeper(t)
	keyPath := filepath.Join(dir, "credentials.key")

	again, err := LoadKeeper(keyPath)
	if err != nil {
		t.Fatalf("reload keeper: %v", err)
	}
	sealed, err := k.Seal("cross-instance")
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	if plain, err := again.Open(sealed); err != nil || plain != "cross-instance" {
		t.Fatalf("reloaded keeper cannot open: %q err=%v", plain, err)
	}

	bad := filepath.Join(dir, "short.key")
	if err := os.WriteFile(bad, []byte("too short"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := LoadKeeper(bad); err == nil {
		t.Fatalf("expected malformed key file to be rejected")
	}
}

func TestCredentials_FileRoundTrip(t *testing.T) {
	k, dir := testKeeper(t)
	credPath := filepath.Join(dir, "credentials.json")

	want := &Credentials{
		OpenAIAPIKey:   "sk-abc",
		SparkAppID:     "app-1",
		SparkAPIKey:    "key-1",
		SparkAPISecret: "secret-1",
	}
	if err := SaveCredentials(k, credPath, want); err != nil {
		t.Fatalf("save: %v", err)
	}

	raw, err := os.ReadFile(credPath)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	for _, secret := range []string{"sk-abc", "secret-1"} {
		if strings.Contains(string(raw), secret) {
			t.Fatalf("credentials file stores %q in the clear", secret)
		}
	}

	got, err := LoadCredentials(k, credPath)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if *got != *want {
		t.Fatalf("round trip mismatch: %+v", got)
	}
}

func TestLoadCredentials_MissingFileIsNil(t *testing.T) {
	k, dir := testKeeper(t)

	got, err := LoadCredentials(k, filepath.Join(dir, "absent.json"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got != nil {
		t.Fatalf("expected nil credentials, got %+v", got)
	}
}
