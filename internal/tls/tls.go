package tls

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"

	"github.com/pkg/errors"
)

// GetServerConfig returns the TLS configuration for a server using the
// given key-pair. When verifyClientCert is set, clients must present a
// certificate signed by caCert.
func GetServerConfig(caCert, tlsCert, tlsKey string, verifyClientCert bool) (*tls.Config, error) {
	cert, err := tls.LoadX509KeyPair(tlsCert, tlsKey)
	if err != nil {
		return nil, errors.Wrap(err, "load tls key-pair error")
	}

	caCertPool, err := loadCertPool(caCert)
	if err != nil {
		return nil, err
	}

	conf := &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}

	if verifyClientCert {
		if caCertPool == nil {
			return nil, errors.New("ca certificate is required for client certificate verification")
		}
		conf.ClientCAs = caCertPool
		conf.ClientAuth = tls.RequireAndVerifyClientCert
	}

	return conf, nil
}

// GetClientConfig returns the TLS configuration for a client. It returns
// nil when none of the files are set.
func GetClientConfig(caCert, tlsCert, tlsKey string) (*tls.Config, error) {
	if caCert == "" && tlsCert == "" && tlsKey == "" {
		return nil, nil
	}

	caCertPool, err := loadCertPool(caCert)
	if err != nil {
		return nil, err
	}

	conf := &tls.Config{
		RootCAs: caCertPool,
	}

	if tlsCert != "" && tlsKey != "" {
		kp, err := tls.LoadX509KeyPair(tlsCert, tlsKey)
		if err != nil {
			return nil, errors.Wrap(err, "load tls key-pair error")
		}
		conf.Certificates = []tls.Certificate{kp}
	}

	return conf, nil
}

func loadCertPool(caCert string) (*x509.CertPool, error) {
	if caCert == "" {
		return nil, nil
	}

	rawCaCert, err := os.ReadFile(caCert)
	if err != nil {
		return nil, errors.Wrap(err, "load ca certificate error")
	}

	caCertPool := x509.NewCertPool()
	if !caCertPool.AppendCertsFromPEM(rawCaCert) {
		return nil, fmt.Errorf("append ca certificate error: %s", caCert)
	}
	return caCertPool, nil
}
