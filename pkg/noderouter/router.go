// Package noderouter dispatches RPC requests to handlers registered
// at SHV paths, and answers the ls/dir introspection calls every path
// must support. It is adapted from pkg/minicli's patternTrie in the
// teacher repo: that trie walks a compiled command pattern one shell
// token at a time to find a Handler; this one walks a '/'-separated
// path one segment at a time to find a node, then dispatches by
// method name within that node. The CLI-specific pieces of minicli
// (argument grammar, tab-completion, help text rendering) have no
// counterpart here and were not carried forward.
package noderouter

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/silicon-heaven/shvgo/pkg/access"
	"github.com/silicon-heaven/shvgo/pkg/shvdata"
)

// MethodFlag is the method-descriptor flags bitfield.
type MethodFlag int

const (
	NotCallable MethodFlag = 1 << iota
	Getter
	Setter
	LargeResultHint
	NotIdempotent
	UserIdRequired
	IsUpdatable
)

// Descriptor is the method-descriptor shape returned by dir, per the
// wire IMap keys 1:name 2:flags 3:param 4:result 5:access 6:signals
// 63:extra.
type Descriptor struct {
	Name    string
	Flags   MethodFlag
	Param   string
	Result  string
	Access  access.Level
	Signals map[string]string
	Extra   *shvdata.Value
}

// ToValue renders the descriptor as the wire IMap shape.
func (d Descriptor) ToValue() *shvdata.Value {
	v := shvdata.NewIMap(nil)
	v.SetIMapKey(1, shvdata.NewString(d.Name))
	v.SetIMapKey(2, shvdata.Int64(int64(d.Flags)))
	param := d.Param
	if param == "" {
		param = "n"
	}
	result := d.Result
	if result == "" {
		result = "n"
	}
	if param != "n" {
		v.SetIMapKey(3, shvdata.NewString(param))
	}
	if result != "n" {
		v.SetIMapKey(4, shvdata.NewString(result))
	}
	v.SetIMapKey(5, shvdata.NewString(d.Access.String()))
	if len(d.Signals) > 0 {
		sigs := shvdata.NewMap(nil)
		names := make([]string, 0, len(d.Signals))
		for name := range d.Signals {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			sigs.SetMapKey(name, shvdata.NewString(d.Signals[name]))
		}
		v.SetIMapKey(6, sigs)
	}
	if d.Extra != nil {
		v.SetIMapKey(63, d.Extra)
	}
	return v
}

// Handler implements one method at one node.
type Handler func(ctx context.Context, call *Call) (*shvdata.Value, error)

// Call carries everything a Handler needs about the inbound request.
type Call struct {
	Path    string
	Method  string
	Param   *shvdata.Value
	Access  access.Level
	UserID  string
}

type boundMethod struct {
	desc Descriptor
	fn   Handler
}

type node struct {
	children map[string]*node
	methods  map[string]*boundMethod
}

func newNode() *node {
	return &node{children: make(map[string]*node), methods: make(map[string]*boundMethod)}
}

// Router is a path tree of nodes, each exposing zero or more methods.
type Router struct {
	root *node
}

// NewRouter returns an empty Router.
func NewRouter() *Router {
	return &Router{root: newNode()}
}

func segs(path string) []string {
	if path == "" {
		return nil
	}
	return strings.Split(path, "/")
}

func (r *Router) nodeAt(path string, create bool) *node {
	n := r.root
	for _, seg := range segs(path) {
		child, ok := n.children[seg]
		if !ok {
			if !create {
				return nil
			}
			child = newNode()
			n.children[seg] = child
		}
		n = child
	}
	return n
}

// Method registers fn as the implementation of desc.Name at path.
func (r *Router) Method(path string, desc Descriptor, fn Handler) {
	n := r.nodeAt(path, true)
	n.methods[desc.Name] = &boundMethod{desc: desc, fn: fn}
}

// Ls lists the immediate child path segments at path. The second
// return value is false if path doesn't exist in the tree at all.
func (r *Router) Ls(path string) ([]string, bool) {
	n := r.nodeAt(path, false)
	if n == nil {
		return nil, false
	}
	out := make([]string, 0, len(n.children))
	for name := range n.children {
		out = append(out, name)
	}
	sort.Strings(out)
	return out, true
}

// Exists reports whether child is a direct child of path -- the
// "String -> existence check" shape of ls.
func (r *Router) Exists(path, child string) bool {
	n := r.nodeAt(path, false)
	if n == nil {
		return false
	}
	_, ok := n.children[child]
	return ok
}

// Dir lists the method descriptors at path.
func (r *Router) Dir(path string) ([]Descriptor, bool) {
	n := r.nodeAt(path, false)
	if n == nil {
		return nil, false
	}
	out := make([]Descriptor, 0, len(n.methods))
	for _, m := range n.methods {
		out = append(out, m.desc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, true
}

// HasMethod reports whether path exposes a method of that name --
// the "String -> existence check" shape of dir.
func (r *Router) HasMethod(path, method string) bool {
	n := r.nodeAt(path, false)
	if n == nil {
		return false
	}
	_, ok := n.methods[method]
	return ok
}

// Call dispatches to the handler registered for (path, method).
func (r *Router) Call(ctx context.Context, call *Call) (*shvdata.Value, error) {
	n := r.nodeAt(call.Path, false)
	if n == nil {
		return nil, fmt.Errorf("noderouter: no such path %q", call.Path)
	}
	bm, ok := n.methods[call.Method]
	if !ok {
		return nil, fmt.Errorf("noderouter: no such method %q at %q", call.Method, call.Path)
	}
	if call.Access < bm.desc.Access {
		return nil, fmt.Errorf("noderouter: access denied for %q at %q", call.Method, call.Path)
	}
	return bm.fn(ctx, call)
}
