// Package issuer mints bearer tokens for the token cache through OAuth2
// client-credentials grants.
//
// The identity providers we talk to expect the token request as a JSON body
// rather than the form encoding the OAuth2 spec prescribes, so requests built
// by golang.org/x/oauth2 are re-encoded by a transport before they leave the
// process:
//
//	POST https://<host>/oauth/token
//	{"grant_type":"client_credentials","audience":"...","client_id":"...","client_secret":"..."}
//
// # Environments
//
// Token endpoints are selected per deployment environment from an
// Environments table (test, beta and prod by default):
//
//	url, err := issuer.DefaultEnvironments.TokenURL("beta")
//	cc, err := issuer.NewClientCredentials(issuer.ClientCredentialsConfig{
//		TokenURL:     url,
//		Audience:     "https://api.example.com/",
//		ClientID:     id,
//		ClientSecret: secret,
//	})
//
// # Custom Base Transport
//
// Configure a custom base transport for token requests (e.g., for proxies or tests):
//
//	cc, err := issuer.NewClientCredentials(cfg, issuer.WithTransport(customTransport))
package issuer
