package main

import (
	"crypto/sha1"
	"encoding/hex"

	"github.com/silicon-heaven/shvgo/internal/rpcbroker"
)

// checkCredentials verifies req against the configured user record's
// stored secret, redoing the same nonce-hashing the client side
// performs in internal/rpcclient's login handshake (§4.7): the
// password that actually crosses the wire is
// sha1_hex(nonce || sha1_hex(password)), never the plaintext itself,
// for SHA1-type logins.
func checkCredentials(req rpcbroker.LoginRequest, rec userRecord) bool {
	switch req.LoginType {
	case "PLAIN":
		return rec.Password != "" && req.Password == rec.Password
	default: // "SHA1", and the default when a client omits the field
		inner := rec.ShaPass
		if inner == "" {
			inner = sha1Hex(rec.Password)
		}
		return req.Password == sha1Hex(req.Nonce+inner)
	}
}

func sha1Hex(s string) string {
	sum := sha1.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}
