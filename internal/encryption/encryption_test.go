package encryption

import (
	"bytes"
	"errors"
	"fmt"
	"testing"

	"drive-go/internal/config"
)

func TestNewEncryptorFromConfig(t *testing.T) {
	tests := []struct {
		typ     string
		want    string
		wantErr bool
	}{
		{typ: "", want: "*encryption.AgeEncryptor"},
		{typ: "age", want: "*encryption.AgeEncryptor"},
		{typ: "none", want: "encryption.PlainEncryptor"},
		{typ: "test", want: "*encryption.TestEncryptor"},
		{typ: "rot13", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.typ, func(t *testing.T) {
			got, err := NewEncryptorFromConfig(config.EncryptionConfig{Type: tt.typ})
			if tt.wantErr {
				if err == nil {
					t.Fatal("NewEncryptorFromConfig() expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("NewEncryptorFromConfig() error = %v", err)
			}
			if name := typeName(got); name != tt.want {
				t.Errorf("type = %s, want %s", name, tt.want)
			}
		})
	}
}

func TestPlainEncryptor_RoundTrip(t *testing.T) {
	var e PlainEncryptor
	var sealed bytes.Buffer
	if err := e.Encrypt(bytes.NewReader([]byte("hello")), &sealed); err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}
	if sealed.String() != "hello" {
		t.Errorf("Encrypt() = %q, want plaintext", sealed.String())
	}
	dec, err := e.Unlock("")
	if err != nil {
		t.Fatalf("Unlock() error = %v", err)
	}
	var plain bytes.Buffer
	if err := dec.Decrypt(&sealed, &plain); err != nil {
		t.Fatalf("Decrypt() error = %v", err)
	}
	if plain.String() != "hello" {
		t.Errorf("Decrypt() = %q, want %q", plain.String(), "hello")
	}
}

func TestTestEncryptor(t *testing.T) {
	e := NewTestEncryptor()
	if err := e.Setup("secret"); err != nil {
		t.Fatalf("Setup() error = %v", err)
	}

	var sealed bytes.Buffer
	if err := e.Encrypt(bytes.NewReader([]byte("data")), &sealed); err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}
	if bytes.Equal(sealed.Bytes(), []byte("data")) {
		t.Error("sealed output equals plaintext")
	}

	if _, err := e.Unlock("nope"); !errors.Is(err, ErrWrongPassphrase) {
		t.Errorf("Unlock(nope) error = %v, want ErrWrongPassphrase", err)
	}
	dec, err := e.Unlock("secret")
	if err != nil {
		t.Fatalf("Unlock() error = %v", err)
	}

	var plain bytes.Buffer
	if err := dec.Decrypt(bytes.NewReader(sealed.Bytes()), &plain); err != nil {
		t.Fatalf("Decrypt() error = %v", err)
	}
	if plain.String() != "data" {
		t.Errorf("Decrypt() = %q, want %q", plain.String(), "data")
	}

	if err := dec.Decrypt(bytes.NewReader([]byte("garbage-without-header")), &plain); err == nil {
		t.Error("Decrypt() of unsealed data should return error")
	}
}

func typeName(v any) string {
	return fmt.Sprintf("%T", v)
}
