package envsync

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"

	"github.com/launchfold/tenant-sync-server/internal/store"
)

// SecretLength is the length of synthesized secrets for empty encrypted entries
const SecretLength = 32

const secretAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// Well-known plain keys whose empty values are synthesized from the tenant's
// remote URL.
var urlKeySuffixes = []string{"SERVER_URL", "AUTH_URL", "SITE_URL", "BASE_URL"}

// randomSecret generates a random alphanumeric secret of the given length
func randomSecret(length int) (string, error) {
	var sb strings.Builder
	sb.Grow(length)
	max := big.NewInt(int64(len(secretAlphabet)))
	for i := 0; i < length; i++ {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("failed to generate secret: %w", err)
		}
		sb.WriteByte(secretAlphabet[n.Int64()])
	}
	return sb.String(), nil
}

// isURLKey reports whether a key belongs to the well-known URL family
func isURLKey(key string) bool {
	upper := strings.ToUpper(key)
	for _, suffix := range urlKeySuffixes {
		if strings.HasSuffix(upper, suffix) {
			return true
		}
	}
	return false
}

// tenantURL returns the tenant's remote URL with a scheme
func tenantURL(tenant *store.Tenant) string {
	if tenant.URL == "" {
		return ""
	}
	if strings.HasPrefix(tenant.URL, "http://") || strings.HasPrefix(tenant.URL, "https://") {
		return tenant.URL
	}
	return "https://" + tenant.URL
}

// synthesizeValue fills an empty value before remote creation: encrypted
// entries get a random secret, well-known plain URL keys get the tenant's
// remote URL, everything else stays empty. Write-only secret entries are
// never synthesized; their values come from the caller or not at all.
func (r *Reconciler) synthesizeValue(tenant *store.Tenant, v store.EnvVar) (string, error) {
	if v.Value != "" {
		return v.Value, nil
	}
	switch {
	case v.Type == store.EnvTypeEncrypted:
		return r.randSecret(SecretLength)
	case v.Type == store.EnvTypePlain && isURLKey(v.Key):
		return tenantURL(tenant), nil
	default:
		return "", nil
	}
}
