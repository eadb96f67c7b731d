package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadWithDefaults(t *testing.T) {
	env := map[string]string{
		"FIRESTORE_PROJECT_ID": "mercatto-dev",
		"AUTH_JWT_SECRET":      "test-secret",
	}

	cfg, err := Load(WithEnvMap(env), WithoutSystemEnv())
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Server.Addr != ":8080" {
		t.Errorf("expected default addr :8080, got %s", cfg.Server.Addr)
	}
	if cfg.Server.ReadTimeout != 15*time.Second {
		t.Errorf("unexpected read timeout: %s", cfg.Server.ReadTimeout)
	}
	if cfg.Logging.Level != "info" {
		t.Errorf("expected default log level info, got %s", cfg.Logging.Level)
	}
	if cfg.Checkout.ShippingFlatFee != 1500 {
		t.Errorf("unexpected default shipping fee: %d", cfg.Checkout.ShippingFlatFee)
	}
	if cfg.Checkout.FreeShippingThreshold != 10000 {
		t.Errorf("unexpected default free shipping threshold: %d", cfg.Checkout.FreeShippingThreshold)
	}
	if cfg.Checkout.TaxBasisPoints != 500 {
		t.Errorf("unexpected default tax rate: %d", cfg.Checkout.TaxBasisPoints)
	}
	if cfg.Gateway.MaxAttempts != 3 {
		t.Errorf("unexpected default gateway attempts: %d", cfg.Gateway.MaxAttempts)
	}
	if cfg.PubSub.Topic != "notifications" {
		t.Errorf("unexpected default topic: %s", cfg.PubSub.Topic)
	}
}

func TestLoadWithOverrides(t *testing.T) {
	env := map[string]string{
		"FIRESTORE_PROJECT_ID":             "mercatto-prod",
		"AUTH_JWT_SECRET":                  "prod-secret",
		"HTTP_ADDR":                        ":9090",
		"HTTP_READ_TIMEOUT":                "20s",
		"CHECKOUT_SHIPPING_FLAT_FEE":       "2000",
		"CHECKOUT_FREE_SHIPPING_THRESHOLD": "15000",
		"CHECKOUT_TAX_BASIS_POINTS":        "800",
		"PAYMENT_GATEWAY_MAX_ATTEMPTS":     "5",
	}

	cfg, err := Load(WithEnvMap(env), WithoutSystemEnv())
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Server.Addr != ":9090" {
		t.Errorf("unexpected addr: %s", cfg.Server.Addr)
	}
	if cfg.Server.ReadTimeout != 20*time.Second {
		t.Errorf("unexpected read timeout: %s", cfg.Server.ReadTimeout)
	}
	if cfg.Checkout.ShippingFlatFee != 2000 {
		t.Errorf("unexpected shipping fee: %d", cfg.Checkout.ShippingFlatFee)
	}
	if cfg.Checkout.FreeShippingThreshold != 15000 {
		t.Errorf("unexpected free shipping threshold: %d", cfg.Checkout.FreeShippingThreshold)
	}
	if cfg.Checkout.TaxBasisPoints != 800 {
		t.Errorf("unexpected tax rate: %d", cfg.Checkout.TaxBasisPoints)
	}
	if cfg.Gateway.MaxAttempts != 5 {
		t.Errorf("unexpected gateway attempts: %d", cfg.Gateway.MaxAttempts)
	}
}

func TestLoadValidation(t *testing.T) {
	_, err := Load(WithoutSystemEnv())
	if err == nil {
		t.Fatal("expected validation error")
	}

	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %T", err)
	}

	fields := verr.Fields()
	want := map[string]bool{
		"FIRESTORE_PROJECT_ID": false,
		"AUTH_JWT_SECRET":      false,
	}
	for _, f := range fields {
		if _, ok := want[f]; ok {
			want[f] = true
		}
	}
	for name, seen := range want {
		if !seen {
			t.Errorf("expected %s in validation fields, got %v", name, fields)
		}
	}
}

func TestLoadEnvFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	content := "# comment\nexport FIRESTORE_PROJECT_ID=from-file\nAUTH_JWT_SECRET=\"quoted\"\n\nCHECKOUT_TAX_BASIS_POINTS=250\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}

	cfg, err := Load(WithEnvFile(path), WithoutSystemEnv())
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Firestore.ProjectID != "from-file" {
		t.Errorf("unexpected project id: %s", cfg.Firestore.ProjectID)
	}
	if cfg.Auth.JWTSecret != "quoted" {
		t.Errorf("unexpected jwt secret: %s", cfg.Auth.JWTSecret)
	}
	if cfg.Checkout.TaxBasisPoints != 250 {
		t.Errorf("unexpected tax rate: %d", cfg.Checkout.TaxBasisPoints)
	}
}

func TestEnvMapOverridesEnvFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	if err := os.WriteFile(path, []byte("FIRESTORE_PROJECT_ID=file\nAUTH_JWT_SECRET=s\n"), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}

	cfg, err := Load(WithEnvFile(path), WithEnvMap(map[string]string{"FIRESTORE_PROJECT_ID": "map"}), WithoutSystemEnv())
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Firestore.ProjectID != "map" {
		t.Errorf("expected env map to win, got %s", cfg.Firestore.ProjectID)
	}
}
