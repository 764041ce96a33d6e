package hashlock

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestVerifyRoundTrip(t *testing.T) {
	for i := 0; i < 32; i++ {
		secret, hash, err := Generate()
		if err != nil {
			t.Fatalf("Generate() error = %v", err)
		}
		if !Verify(secret[:], hash) {
			t.Fatalf("Verify(secret, Digest(secret)) = false")
		}
	}
}

func TestVerifyRejectsBitFlips(t *testing.T) {
	secret, hash, err := Generate()
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}

	for i := 0; i < Size*8; i++ {
		flipped := secret
		flipped[i/8] ^= 1 << (i % 8)
		if Verify(flipped[:], hash) {
			t.Fatalf("Verify accepted secret with bit %d flipped", i)
		}
	}
}

func TestVerifyRejectsWrongLength(t *testing.T) {
	secret, hash, err := Generate()
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}

	tests := []struct {
		name  string
		input []byte
	}{
		{"nil", nil},
		{"empty", []byte{}},
		{"short", secret[:31]},
		{"long", append(secret[:], 0x00)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if Verify(tt.input, hash) {
				t.Errorf("Verify() = true for %d-byte input", len(tt.input))
			}
		})
	}
}

func TestDigestKnownVector(t *testing.T) {
	// sha256 of 32 zero bytes
	const want = "66687aadf862bd776c8fc18b8e9f8e20089714856ee233b3902a591d0d5f2925"
	if got := Digest(Secret{}).Hex(); got != want {
		t.Errorf("Digest(zero) = %s, want %s", got, want)
	}
}

func TestSecretIsRedacted(t *testing.T) {
	secret, _, err := Generate()
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}

	data, err := json.Marshal(struct {
		Secret Secret `json:"secret"`
	}{secret})
	if err != nil {
		t.Fatalf("json.Marshal() error = %v", err)
	}
	if strings.Contains(string(data), secret.Hex()) {
		t.Error("JSON encoding leaked the secret")
	}
	if secret.String() != "[redacted]" {
		t.Errorf("String() = %q", secret.String())
	}
}

func TestParseHashAndSecret(t *testing.T) {
	secret, hash, err := Generate()
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}

	parsedHash, err := ParseHash("0x" + hash.Hex())
	if err != nil {
		t.Fatalf("ParseHash() error = %v", err)
	}
	if parsedHash != hash {
		t.Error("ParseHash() did not round-trip")
	}

	parsedSecret, err := ParseSecret(secret.Hex())
	if err != nil {
		t.Fatalf("ParseSecret() error = %v", err)
	}
	if parsedSecret != secret {
		t.Error("ParseSecret() did not round-trip")
	}

	if _, err := ParseHash("abcd"); err == nil {
		t.Error("expected error for short hash")
	}
	if _, err := ParseSecret("zz"); err == nil {
		t.Error("expected error for non-hex secret")
	}
}
