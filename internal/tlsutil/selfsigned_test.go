package tlsutil

import (
	"crypto/x509"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSelfSigned(t *testing.T) {
	conf, err := SelfSigned()
	require.NoError(t, err)
	require.Len(t, conf.Certificates, 1)

	cert, err := x509.ParseCertificate(conf.Certificates[0].Certificate[0])
	require.NoError(t, err)

	assert.Contains(t, cert.DNSNames, "localhost")
	assert.True(t, cert.NotAfter.After(time.Now().Add(24*time.Hour)))

	found := false
	for _, ip := range cert.IPAddresses {
		if ip.String() == "127.0.0.1" {
			found = true
		}
	}
	assert.True(t, found, "loopback address missing from certificate")
}

func TestLoadMissingFiles(t *testing.T) {
	_, err := Load("/does/not/exist.crt", "/does/not/exist.key")
	assert.Error(t, err)
}
