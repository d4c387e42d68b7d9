package ports

// ProxyAuthenticator is the external collaborator:
// "ProxyAuthenticator.authenticate(user, pass) -> bool" (spec section 1).
// When configured, ClientToProxyConnection gates every request on it before
// request processing begins (spec section 4.4 step 3).
type ProxyAuthenticator interface {
	Authenticate(user, pass string) bool
}
