package pki

import "fmt"

// TrustDomain is the SPIFFE trust domain shared by the relay and its callers.
const TrustDomain = "repolens"

// RelayIdentity returns the identity URI of a relay daemon.
func RelayIdentity(id string) string {
	return fmt.Sprintf("spiffe://%s/relay/%s", TrustDomain, id)
}

// CallerIdentity returns the identity URI of a restricted-side caller.
func CallerIdentity(id string) string {
	return fmt.Sprintf("spiffe://%s/caller/%s", TrustDomain, id)
}
