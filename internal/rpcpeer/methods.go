package rpcpeer

import (
	"context"
	"time"

	"github.com/silicon-heaven/shvgo/pkg/access"
	"github.com/silicon-heaven/shvgo/pkg/noderouter"
	"github.com/silicon-heaven/shvgo/pkg/shvdata"
)

// ShvVersionMajor/ShvVersionMinor are the protocol version this
// implementation answers on .app/shvVersionMajor and
// .app/shvVersionMinor.
const (
	ShvVersionMajor = 3
	ShvVersionMinor = 0
)

// RegisterAppMethods installs the .app subtree every peer must answer:
// shvVersionMajor/Minor, name, version, date, and ping.
func RegisterAppMethods(r *noderouter.Router, appName, appVersion string) {
	r.Method(".app", noderouter.Descriptor{
		Name: "shvVersionMajor", Flags: noderouter.Getter, Result: "Int", Access: access.Browse,
	}, func(ctx context.Context, call *noderouter.Call) (*shvdata.Value, error) {
		return shvdata.Int64(ShvVersionMajor), nil
	})
	r.Method(".app", noderouter.Descriptor{
		Name: "shvVersionMinor", Flags: noderouter.Getter, Result: "Int", Access: access.Browse,
	}, func(ctx context.Context, call *noderouter.Call) (*shvdata.Value, error) {
		return shvdata.Int64(ShvVersionMinor), nil
	})
	r.Method(".app", noderouter.Descriptor{
		Name: "name", Flags: noderouter.Getter, Result: "String", Access: access.Browse,
	}, func(ctx context.Context, call *noderouter.Call) (*shvdata.Value, error) {
		return shvdata.NewString(appName), nil
	})
	r.Method(".app", noderouter.Descriptor{
		Name: "version", Flags: noderouter.Getter, Result: "String", Access: access.Browse,
	}, func(ctx context.Context, call *noderouter.Call) (*shvdata.Value, error) {
		return shvdata.NewString(appVersion), nil
	})
	r.Method(".app", noderouter.Descriptor{
		Name: "date", Flags: noderouter.Getter, Result: "DateTime", Access: access.Browse,
	}, func(ctx context.Context, call *noderouter.Call) (*shvdata.Value, error) {
		return shvdata.NewDateTime(shvdata.FromTime(time.Now())), nil
	})
	r.Method(".app", noderouter.Descriptor{
		Name: "ping", Access: access.Browse,
	}, func(ctx context.Context, call *noderouter.Call) (*shvdata.Value, error) {
		return shvdata.Null(), nil
	})
}
