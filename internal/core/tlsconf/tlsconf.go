// Package tlsconf turns the key and certificate paths a server was configured with
// into a tls.Config for its sessions.
package tlsconf

import (
	"crypto/tls"
	"fmt"
	"time"

	"github.com/patrickmn/go-cache"
)

// DefaultTTL is how long a loaded key pair is reused before the files are read
// again, which is what lets renewed certificates take effect without a restart.
const DefaultTTL = 10 * time.Minute

// Credentials are the PEM files a TLS-enabled server hands to each new session.
// A nil *Credentials means the server is plain TCP.
type Credentials struct {
	KeyFile  string
	CertFile string
}

// New returns nil unless both paths are set.
func New(keyFile, certFile string) *Credentials {
	if keyFile == "" || certFile == "" {
		return nil
	}
	return &Credentials{KeyFile: keyFile, CertFile: certFile}
}

func (c *Credentials) cacheKey() string {
	return c.CertFile + "|" + c.KeyFile
}

// Loader caches parsed key pairs by path.
type Loader struct {
	cache *cache.Cache
}

func NewLoader(ttl time.Duration) *Loader {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Loader{cache: cache.New(ttl, 2*ttl)}
}

var defaultLoader = NewLoader(DefaultTTL)

// Load builds a server tls.Config from creds using the shared loader.
func Load(creds *Credentials) (*tls.Config, error) { return defaultLoader.Load(creds) }

// Load builds a server tls.Config from creds. A nil creds yields a nil config.
func (l *Loader) Load(creds *Credentials) (*tls.Config, error) {
	if creds == nil {
		return nil, nil
	}

	key := creds.cacheKey()
	if cached, ok := l.cache.Get(key); ok {
		return cached.(*tls.Config), nil
	}

	cert, err := tls.LoadX509KeyPair(creds.CertFile, creds.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("error loading X.509 key pair (cert=%s, key=%s): %w", creds.CertFile, creds.KeyFile, err)
	}

	cfg := &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}
	l.cache.SetDefault(key, cfg)
	return cfg, nil
}

// Forget drops any cached pair for creds.
func (l *Loader) Forget(creds *Credentials) {
	if creds != nil {
		l.cache.Delete(creds.cacheKey())
	}
}
