package server

import "crypto/tls"

// LoadTLSConfig loads an operator-supplied certificate/key pair. The server
// does not generate credentials; an operator who wants TLS must supply a
// real cert and key.
func LoadTLSConfig(certFile, keyFile string) (*tls.Config, error) {
	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return nil, err
	}
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}, nil
}
