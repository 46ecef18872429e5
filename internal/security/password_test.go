package security

import (
	"strings"
	"testing"
)

func TestHashAndVerifyRoundTrip(t *testing.T) {
	hash, err := HashPassword("correct horse 1", 4)
	if err != nil {
		t.Fatalf("hash error: %v", err)
	}
	if strings.HasPrefix(hash, "$") == false {
		t.Fatalf("expected bcrypt encoding, got %q", hash)
	}

	match, upgrade := VerifyPassword(hash, "correct horse 1")
	if !match {
		t.Fatal("expected password to verify")
	}
	if upgrade {
		t.Fatal("current-scheme credential must not request upgrade")
	}

	match, _ = VerifyPassword(hash, "wrong horse 1")
	if match {
		t.Fatal("expected mismatch for wrong password")
	}
}

func TestLegacyDigestStillVerifies(t *testing.T) {
	stored := LegacyDigest("ancient pass 9")

	match, upgrade := VerifyPassword(stored, "ancient pass 9")
	if !match {
		t.Fatal("legacy-only credential must still verify")
	}
	if !upgrade {
		t.Fatal("legacy credential must be flagged for upgrade")
	}

	match, _ = VerifyPassword(stored, "ancient pass 8")
	if match {
		t.Fatal("expected mismatch for wrong password against legacy hash")
	}
}

func TestLegacyDigestCaseInsensitiveStorage(t *testing.T) {
	stored := strings.ToUpper(LegacyDigest("ancient pass 9"))
	match, _ := VerifyPassword(stored, "ancient pass 9")
	if !match {
		t.Fatal("uppercase legacy digest must still verify")
	}
}

func TestVerifyRejectsGarbageStoredCredential(t *testing.T) {
	match, upgrade := VerifyPassword("not-a-hash", "whatever 1")
	if match || upgrade {
		t.Fatal("garbage credential must never match")
	}
}

func TestCheckPasswordPolicy(t *testing.T) {
	cases := []struct {
		name     string
		password string
		problems int
	}{
		{"acceptable", "longenough1", 0},
		{"too short but composed", "ab1", 1},
		{"no digit", "lettersonly", 1},
		{"no letter", "123456789", 1},
		{"empty", "", 3},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := CheckPasswordPolicy(tc.password)
			if len(got) != tc.problems {
				t.Fatalf("expected %d problems, got %d: %v", tc.problems, len(got), got)
			}
		})
	}
}

func TestTokenGeneratorProducesUniqueOpaqueTokens(t *testing.T) {
	gen := DefaultTokenGenerator{}
	seen := map[string]bool{}
	for i := 0; i < 32; i++ {
		tok, err := gen.New()
		if err != nil {
			t.Fatalf("generate: %v", err)
		}
		if len(tok) < 40 {
			t.Fatalf("token too short: %q", tok)
		}
		if seen[tok] {
			t.Fatalf("duplicate token generated: %q", tok)
		}
		seen[tok] = true
	}
}
