package common

import (
	"encoding/base64"
	"testing"
)

// ---------- MakeRandURLToken ----------

func TestMakeRandURLToken_LengthAndAlphabet(t *testing.T) {
	const n = 32
	s, err := MakeRandURLToken(n)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	b, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		t.Fatalf("token is not raw url base64: %v", err)
	}
	if len(b) != n {
		t.Fatalf("expected %d bytes, got %d", n, len(b))
	}
}

func TestMakeRandURLToken_Distinct(t *testing.T) {
	a, err := MakeRandURLToken(32)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	b, err := MakeRandURLToken(32)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a == b {
		t.Fatalf("two tokens are identical: %q", a)
	}
}

// ---------- WipeByteArray ----------

func TestWipeByteArray_ZerosBuffer(t *testing.T) {
	buf := []byte{1, 2, 3, 4, 5}
	WipeByteArray(buf)
	for i, v := range buf {
		if v != 0 {
			t.Fatalf("expected buf[%d]==0, got %d", i, v)
		}
	}
}

func TestWipeByteArray_NilSafe(t *testing.T) {
	WipeByteArray(nil)
}

// ---------- GenerateRandByteArray ----------

func TestGenerateRandByteArray_Basic(t *testing.T) {
	const n = 24
	buf := GenerateRandByteArray(n)
	if buf == nil {
		t.Fatalf("expected non-nil slice")
	}
	if len(buf) != n {
		t.Fatalf("expected length %d, got %d", n, len(buf))
	}
}

func TestGenerateRandByteArray_EntropyHint(t *testing.T) {
	const n = 32
	a := GenerateRandByteArray(n)
	b := GenerateRandByteArray(n)

	if len(a) != n || len(b) != n {
		t.Fatalf("unexpected lengths: %d, %d", len(a), len(b))
	}

	identical := true
	for i := range a {
		if a[i] != b[i] {
			identical = false
			break
		}
	}
	if identical {
		t.Logf("warning: two GenerateRandByteArray(%d) results are identical; extremely unlikely", n)
	}
}

// ---------- MakeRandURLToken ----------

func TestMakeRandURLToken_URLSafe(t *testing.T) {
	s, err := MakeRandURLToken(32)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(s) != 43 {
		t.Fatalf("expected 43 chars for 32 bytes, got %d", len(s))
	}
	for _, r := range s {
		if r == '+' || r == '/' || r == '=' {
			t.Fatalf("token is not url-safe: %q", s)
		}
	}
}
