// Package token signs and verifies the service's bearer tokens.
//
// A Codec is bound to one token class (access or refresh) through its secret
// and lifetime. Tokens are HS256 JWTs; any other algorithm is rejected, and
// so is a token signed with another class's secret.
//
// Every failure mode of Verify (bad signature, malformed input, wrong
// algorithm, expiry, missing subject) is reported as ErrTokenInvalid so
// callers cannot branch on the reason.
package token
