package address

import (
	"errors"
	"testing"
)

func TestIDAddressRoundTrip(t *testing.T) {
	addr := NewIDAddress(1024)

	if got := addr.String(); got != "f01024" {
		t.Fatalf("String() = %q, want %q", got, "f01024")
	}
	if got := addr.Format(Testnet); got != "t01024" {
		t.Errorf("Format(Testnet) = %q, want %q", got, "t01024")
	}

	parsed, err := Parse("f01024")
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	id, err := parsed.ID()
	if err != nil {
		t.Fatalf("ID failed: %v", err)
	}
	if id != 1024 {
		t.Errorf("ID() = %d, want 1024", id)
	}

	fromBytes, err := NewFromBytes(addr.Bytes())
	if err != nil {
		t.Fatalf("NewFromBytes failed: %v", err)
	}
	if fromBytes.String() != addr.String() {
		t.Errorf("bytes round trip = %q, want %q", fromBytes.String(), addr.String())
	}
}

func TestHashAddressRoundTrip(t *testing.T) {
	payload := make([]byte, PayloadHashLength)
	for i := range payload {
		payload[i] = byte(i)
	}

	addr, err := NewFromBytes(append([]byte{byte(SECP256K1)}, payload...))
	if err != nil {
		t.Fatalf("NewFromBytes failed: %v", err)
	}

	text := addr.String()
	if text[:2] != "f1" {
		t.Fatalf("expected f1 prefix, got %q", text)
	}

	parsed, err := Parse(text)
	if err != nil {
		t.Fatalf("Parse(%q) failed: %v", text, err)
	}
	if parsed.Protocol() != SECP256K1 {
		t.Errorf("Protocol() = %d, want %d", parsed.Protocol(), SECP256K1)
	}
	if parsed.String() != text {
		t.Errorf("round trip = %q, want %q", parsed.String(), text)
	}
}

func TestParseErrors(t *testing.T) {
	payload := make([]byte, PayloadHashLength)
	valid, err := NewFromBytes(append([]byte{byte(Actor)}, payload...))
	if err != nil {
		t.Fatalf("NewFromBytes failed: %v", err)
	}
	text := valid.String()

	// Replace a character inside the checksum. The final character carries
	// padding bits, so corrupt one before it.
	pos := len(text) - 3
	replacement := byte('a')
	if text[pos] == 'a' {
		replacement = 'b'
	}
	corrupted := text[:pos] + string(replacement) + text[pos+1:]

	tests := []struct {
		name  string
		input string
		want  error
	}{
		{"too short", "f0", ErrInvalidLength},
		{"unknown network", "x01024", ErrUnknownNetwork},
		{"unknown protocol", "f91024", ErrUnknownProtocol},
		{"bad id", "f0abc", ErrInvalidPayload},
		{"bad base32", "f1!!!!", ErrInvalidPayload},
		{"short payload", "f2aaaaaaaa", ErrInvalidLength},
		{"bad checksum", corrupted, ErrInvalidChecksum},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.input)
			if err == nil {
				t.Fatalf("expected error for %q", tt.input)
			}

			var addrErr *Error
			if !errors.As(err, &addrErr) {
				t.Fatalf("expected *Error, got %T", err)
			}
			if addrErr.Input != tt.input {
				t.Errorf("Input = %q, want %q", addrErr.Input, tt.input)
			}
			if !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}
}
