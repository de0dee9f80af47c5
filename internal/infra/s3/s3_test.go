package s3

import "testing"

func TestEndpointHost(t *testing.T) {
	cases := []struct {
		endpoint string
		useSSL   bool
		host     string
		secure   bool
	}{
		{endpoint: "minio:9000", useSSL: false, host: "minio:9000", secure: false},
		{endpoint: "minio:9000/", useSSL: true, host: "minio:9000", secure: true},
		{endpoint: "https://s3.example.com", useSSL: false, host: "s3.example.com", secure: true},
		{endpoint: "http://minio:9000", useSSL: true, host: "minio:9000", secure: false},
	}
	for _, tc := range cases {
		host, secure, err := endpointHost(tc.endpoint, tc.useSSL)
		if err != nil {
			t.Fatalf("endpointHost(%q): %v", tc.endpoint, err)
		}
		if host != tc.host || secure != tc.secure {
			t.Fatalf("endpointHost(%q) = %q, %v", tc.endpoint, host, secure)
		}
	}

	for _, bad := range []string{"", "  ", "ftp://files", "https://"} {
		if _, _, err := endpointHost(bad, false); err == nil {
			t.Fatalf("expected error for %q", bad)
		}
	}
}

func TestNewClientRequiresCredentials(t *testing.T) {
	if _, err := NewClient(Config{Endpoint: "minio:9000"}); err == nil {
		t.Fatalf("expected error without credentials")
	}
}
