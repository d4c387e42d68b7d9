// Package auth implements the default ports.ProxyAuthenticator: a static
// Basic-credential table, per spec section 6's proxyAuthenticator option.
package auth

import "crypto/subtle"

// Basic authenticates against a fixed user/password table using
// constant-time comparison to avoid leaking credential length/prefix via
// timing, the same defensive posture the teacher's security adapters take
// for request signing.
type Basic struct {
	credentials map[string]string
}

func NewBasic(credentials map[string]string) *Basic {
	cp := make(map[string]string, len(credentials))
	for k, v := range credentials {
		cp[k] = v
	}
	return &Basic{credentials: cp}
}

func (b *Basic) Authenticate(user, pass string) bool {
	want, ok := b.credentials[user]
	if !ok {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(want), []byte(pass)) == 1
}
