package main

import "testing"

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"defaults", Config{port: 8080}, false},
		{"port too low", Config{port: 0}, true},
		{"port too high", Config{port: 70000}, true},
		{"port at lower boundary", Config{port: 1}, false},
		{"port at upper boundary", Config{port: 65535}, false},
		{"cert without key", Config{port: 8080, tlsCert: "cert.pem"}, true},
		{"key without cert", Config{port: 8080, tlsKey: "key.pem"}, true},
		{"cert and key", Config{port: 8080, tlsCert: "cert.pem", tlsKey: "key.pem"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestConfigScheme(t *testing.T) {
	plain := Config{}
	if plain.scheme() != "http" {
		t.Errorf("scheme = %q, want http", plain.scheme())
	}

	tls := Config{tlsCert: "cert.pem", tlsKey: "key.pem"}
	if tls.scheme() != "https" {
		t.Errorf("scheme = %q, want https", tls.scheme())
	}
}
