package connector

import (
	"errors"
	"fmt"
	"os"
	"strings"
)

var ErrNoSigningKey = errors.New("wallet has no signing key")

// ResolveSecret turns a wallet secret reference into a WIF. References are
// "env:NAME", "file:/path" or a literal WIF. An empty reference yields an
// empty key and the wallet can only be watched.
func ResolveSecret(ref string) (string, error) {
	ref = strings.TrimSpace(ref)
	switch {
	case ref == "":
		return "", nil
	case strings.HasPrefix(ref, "env:"):
		name := strings.TrimPrefix(ref, "env:")
		v, ok := os.LookupEnv(name)
		if !ok || strings.TrimSpace(v) == "" {
			return "", fmt.Errorf("secret environment variable %s is not set", name)
		}
		return strings.TrimSpace(v), nil
	case strings.HasPrefix(ref, "file:"):
		path := strings.TrimPrefix(ref, "file:")
		b, err := os.ReadFile(path)
		if err != nil {
			return "", fmt.Errorf("unable to read secret file: %w", err)
		}
		v := strings.TrimSpace(string(b))
		if v == "" {
			return "", fmt.Errorf("secret file %s is empty", path)
		}
		return v, nil
	default:
		return ref, nil
	}
}
