package credentials

import (
	"strings"
	"testing"
)

func TestAccountFromARN(t *testing.T) {
	cases := []struct {
		arn    string
		want   string
		wantOK bool
	}{
		{"arn:aws:sts::123456789012:assumed-role/sirpi-deploy/sirpi-verify", "123456789012", true},
		{"arn:aws:iam::999999999999:role/sirpi-deploy", "999999999999", true},
		{"not-an-arn", "", false},
		{"arn:aws:sts:::assumed-role/x/y", "", false},
	}
	for _, tc := range cases {
		got, ok := accountFromARN(tc.arn)
		if ok != tc.wantOK {
			t.Errorf("accountFromARN(%q) ok = %v, want %v", tc.arn, ok, tc.wantOK)
			continue
		}
		if ok && got != tc.want {
			t.Errorf("accountFromARN(%q) = %q, want %q", tc.arn, got, tc.want)
		}
	}
}

func TestNewNonceProducesDistinctHighEntropyValues(t *testing.T) {
	n1, err := NewNonce()
	if err != nil {
		t.Fatalf("NewNonce error: %v", err)
	}
	n2, err := NewNonce()
	if err != nil {
		t.Fatalf("NewNonce error: %v", err)
	}
	if n1 == n2 {
		t.Fatalf("expected two independently generated nonces to differ")
	}
	if len(n1) != 48 { // 24 bytes hex-encoded
		t.Fatalf("expected a 48-character hex nonce, got length %d (%q)", len(n1), n1)
	}
}

func TestSetupURLEmbedsServiceAccountAndNonce(t *testing.T) {
	b := New(nil, "555000111222")
	url := b.SetupURL("https://console.example.com/create-stack/", "deadbeef")
	if !strings.HasPrefix(url, "https://console.example.com/create-stack?") {
		t.Fatalf("expected trailing slash trimmed from console base url, got %q", url)
	}
	if !strings.Contains(url, "serviceAccountId=555000111222") {
		t.Errorf("expected service account id embedded in setup url: %q", url)
	}
	if !strings.Contains(url, "nonce=deadbeef") {
		t.Errorf("expected nonce embedded in setup url: %q", url)
	}
}
