// Package auth resolves the identity behind a websocket connection.
//
// A bearer credential is checked against an ordered list of validators;
// the first one that accepts it supplies the Principal for the lifetime of
// the connection:
//
//	chain := auth.Chain{
//	    auth.NewLocalValidator(secret, auth.WithIssuer("whiteboard")),
//	    auth.NewExternalValidator(),
//	}
//	r.With(auth.Middleware(auth.MiddlewareConfig{Validator: chain})).Get("/ws", gateway.ServeHTTP)
//
// LocalValidator verifies HS256 tokens minted by Issuer. ExternalValidator
// accepts tokens from an outside identity provider that terminates trust
// upstream: it reads the subject, preferred username and email claims
// without checking the signature.
//
// The credential is read from the Authorization header, then the token
// query parameter, then the access_token cookie. When anonymous access is
// allowed, a request with no credential at all gets a generated guest
// identity; a credential that is present but rejected always fails.
package auth
