package certs

import (
	"crypto/sha256"
	"crypto/x509"
	"net"
	"slices"
	"testing"
	"time"
)

func TestGenerate(t *testing.T) {
	t.Parallel()
	cert, err := Generate(24*time.Hour, "player.local", "10.1.2.3", "localhost")
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if len(cert.TLSCert.Certificate) == 0 {
		t.Fatal("no certificate data")
	}
	x, err := x509.ParseCertificate(cert.TLSCert.Certificate[0])
	if err != nil {
		t.Fatalf("failed to parse cert: %v", err)
	}

	if got := x.NotAfter.Sub(x.NotBefore); got != 24*time.Hour {
		t.Errorf("validity = %v, want 24h", got)
	}
	if x.NotAfter.Before(time.Now()) {
		t.Error("cert is already expired")
	}
	if cert.Fingerprint != sha256.Sum256(cert.TLSCert.Certificate[0]) {
		t.Error("fingerprint mismatch")
	}
	if cert.FingerprintBase64() == "" {
		t.Error("FingerprintBase64 returned empty string")
	}

	if want := []string{"localhost", "player.local"}; !slices.Equal(x.DNSNames, want) {
		t.Errorf("DNS names = %v, want %v", x.DNSNames, want)
	}
	if !slices.ContainsFunc(x.IPAddresses, func(ip net.IP) bool { return ip.Equal(net.ParseIP("10.1.2.3")) }) {
		t.Errorf("IP addresses = %v, want 10.1.2.3 included", x.IPAddresses)
	}
}

func TestGenerateClampsValidity(t *testing.T) {
	t.Parallel()
	for _, d := range []time.Duration{30 * 24 * time.Hour, 0, -time.Hour} {
		cert, err := Generate(d)
		if err != nil {
			t.Fatalf("Generate(%v) failed: %v", d, err)
		}
		x, err := x509.ParseCertificate(cert.TLSCert.Certificate[0])
		if err != nil {
			t.Fatal(err)
		}
		if got := x.NotAfter.Sub(x.NotBefore); got != MaxValidity {
			t.Errorf("Generate(%v): validity %v, want %v", d, got, MaxValidity)
		}
	}
}

func TestTLSConfig(t *testing.T) {
	t.Parallel()
	cert, err := Generate(time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	cfg := cert.TLSConfig()
	if len(cfg.Certificates) != 1 || !slices.Contains(cfg.NextProtos, "h3") {
		t.Errorf("config = %+v", cfg)
	}
}
