package rpcclient

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"

	"github.com/silicon-heaven/shvgo/pkg/shvdata"

	"github.com/silicon-heaven/shvgo/internal/rpcpeer"
)

// loginResult is what a successful login call returns.
type loginResult struct {
	ClientID int64
}

// login runs the hello/login handshake described in spec.md's §4.7:
// hello (no path, no param) gets back a nonce; login then sends
// credentials hashed against that nonce for SHA1-type logins.
func (c *Client) login(ctx context.Context, peer *rpcpeer.Peer) (*loginResult, error) {
	helloResp, err := peer.Call(ctx, "", "hello", shvdata.Null())
	if err != nil {
		return nil, fmt.Errorf("rpcclient: hello failed: %w", err)
	}

	nonce := ""
	if helloResp != nil && helloResp.Kind == shvdata.KindMap {
		if nv, ok := helloResp.Map()["nonce"]; ok {
			nonce = nv.String2()
		}
	}

	loginType := "PLAIN"
	password := c.opts.Password
	if !c.opts.ForcePlain {
		loginType = "SHA1"
		password = sha1Login(nonce, c.opts.Password, c.opts.PasswordIsSHA1)
	}

	loginMap := shvdata.NewMap(nil)
	loginMap.SetMapKey("user", shvdata.NewString(c.opts.User))
	loginMap.SetMapKey("type", shvdata.NewString(loginType))
	loginMap.SetMapKey("password", shvdata.NewString(password))

	optionsMap := shvdata.NewMap(nil)
	if c.opts.MountPoint != "" || c.opts.DeviceID != "" {
		deviceMap := shvdata.NewMap(nil)
		if c.opts.MountPoint != "" {
			deviceMap.SetMapKey("mountPoint", shvdata.NewString(c.opts.MountPoint))
		}
		if c.opts.DeviceID != "" {
			deviceMap.SetMapKey("deviceId", shvdata.NewString(c.opts.DeviceID))
		}
		optionsMap.SetMapKey("device", deviceMap)
	}
	if c.opts.IdleWatchDogTimeOut > 0 {
		optionsMap.SetMapKey("idleWatchDogTimeOut", shvdata.Double(c.opts.IdleWatchDogTimeOut))
	}

	param := shvdata.NewMap(nil)
	param.SetMapKey("login", loginMap)
	param.SetMapKey("options", optionsMap)

	resp, err := peer.Call(ctx, "", "login", param)
	if err != nil {
		return nil, fmt.Errorf("rpcclient: login failed: %w", err)
	}

	result := &loginResult{}
	if resp != nil && resp.Kind == shvdata.KindMap {
		if cid, ok := resp.Map()["clientId"]; ok {
			result.ClientID = cid.Int()
		}
	}
	return result, nil
}

// sha1Login computes sha1_hex(nonce || sha1_hex(plainPassword)), or
// sha1_hex(nonce || password) directly when password is already a
// stored sha1 hash, skipping the redundant inner hash.
func sha1Login(nonce, password string, alreadySHA1 bool) string {
	inner := password
	if !alreadySHA1 {
		inner = sha1Hex(password)
	}
	return sha1Hex(nonce + inner)
}

func sha1Hex(s string) string {
	sum := sha1.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}
