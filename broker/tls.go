package broker

import (
	"crypto/tls"
	"fmt"
	"os"

	"software.sslmate.com/src/go-pkcs12"
)

// loadTLSIdentity builds a *tls.Config from a PKCS#12 identity file,
// generalizing the teacher's ServeTLS (server.go), which called
// tls.LoadX509KeyPair against a separate cert/key PEM pair. spec.md §6's
// config keys (`tls_identity`, `tls_passphrase`) name a single bundled
// identity file, matching the single-file .p12/.pfx convention, so
// go-pkcs12 replaces the stdlib PEM loader entirely rather than living
// alongside it.
func loadTLSIdentity(path, passphrase string) (*tls.Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("broker: read TLS identity %q: %w", path, err)
	}
	key, cert, caCerts, err := pkcs12.DecodeChain(data, passphrase)
	if err != nil {
		return nil, fmt.Errorf("broker: decode TLS identity %q: %w", path, err)
	}
	tlsCert := tls.Certificate{
		Certificate: [][]byte{cert.Raw},
		PrivateKey:  key,
		Leaf:        cert,
	}
	for _, ca := range caCerts {
		tlsCert.Certificate = append(tlsCert.Certificate, ca.Raw)
	}
	return &tls.Config{Certificates: []tls.Certificate{tlsCert}}, nil
}
