// Package rpcmsg is a thin typed view over the shvdata value model,
// exposing the three RpcMessage shapes (request, response, signal) as
// one Message type with typed accessors -- the same "it's just a
// value with a known shape" approach ron.Command/ron.Response take in
// the teacher repo over their own field structs, generalized here to
// a single value-model-backed type since the wire shape itself (an
// IMap-with-Meta) is shared by all three.
package rpcmsg

import "github.com/silicon-heaven/shvgo/pkg/shvdata"

// Meta int keys. Keeping these as unexported constants instead of a
// struct-per-shape mirrors how chainpack's own tag bytes are private
// wire details -- callers go through the typed accessors below.
const (
	metaRequestID = 8
	metaShvPath   = 9
	metaMethod    = 10
	metaCallerIDs = 11
	metaAccess    = 12
	metaUserID    = 13
	metaSource    = 14
	metaDelay     = 15
	metaAbort     = 16
)

// Body IMap keys.
const (
	bodyParam  = 1
	bodyResult = 2
	bodyError  = 3
)

// Error IMap keys, nested under bodyError.
const (
	errCode = 1
	errMsg  = 2
)

// Message is a view over a *shvdata.Value shaped as an IMap with
// Meta, matching one of Request, Response, or Signal.
type Message struct {
	v *shvdata.Value
}

// FromValue wraps an already-decoded value as a Message, e.g. after
// reading it off the wire with pkg/chainpack or pkg/cpon.
func FromValue(v *shvdata.Value) *Message {
	return &Message{v: v}
}

// Value returns the underlying value, e.g. to hand to an encoder.
func (m *Message) Value() *shvdata.Value { return m.v }

func newBare() *shvdata.Value {
	v := shvdata.NewIMap(nil)
	v.WithMeta(shvdata.NewMeta())
	return v
}

// NewRequest builds a Request message.
func NewRequest(requestID uint64, method string) *Message {
	v := newBare()
	v.Meta.SetInt(metaRequestID, shvdata.UInt64(requestID))
	v.Meta.SetInt(metaMethod, shvdata.NewString(method))
	return &Message{v: v}
}

// NewResponse builds a Response message correlated to requestID,
// carrying callerIds verbatim (see the caller-id stack invariant).
func NewResponse(requestID uint64, callerIDs []uint64) *Message {
	v := newBare()
	v.Meta.SetInt(metaRequestID, shvdata.UInt64(requestID))
	v.Meta.SetInt(metaCallerIDs, callerIDsValue(callerIDs))
	return &Message{v: v}
}

// NewSignal builds a Signal message named method.
func NewSignal(method string) *Message {
	v := newBare()
	v.Meta.SetInt(metaMethod, shvdata.NewString(method))
	return &Message{v: v}
}

func callerIDsValue(ids []uint64) *shvdata.Value {
	l := shvdata.NewList()
	for _, id := range ids {
		l.AppendList(shvdata.UInt64(id))
	}
	return l
}

// IsRequest reports whether m has both a request_id and a method.
func (m *Message) IsRequest() bool {
	_, hasID := m.v.Meta.GetInt(metaRequestID)
	_, hasMethod := m.v.Meta.GetInt(metaMethod)
	return hasID && hasMethod
}

// IsResponse reports whether m has a request_id but no method.
func (m *Message) IsResponse() bool {
	_, hasID := m.v.Meta.GetInt(metaRequestID)
	_, hasMethod := m.v.Meta.GetInt(metaMethod)
	return hasID && !hasMethod
}

// IsSignal reports whether m has a method but no request_id.
func (m *Message) IsSignal() bool {
	_, hasID := m.v.Meta.GetInt(metaRequestID)
	_, hasMethod := m.v.Meta.GetInt(metaMethod)
	return hasMethod && !hasID
}

// RequestID returns the request_id meta field.
func (m *Message) RequestID() (uint64, bool) {
	v, ok := m.v.Meta.GetInt(metaRequestID)
	if !ok {
		return 0, false
	}
	return v.UInt(), true
}

// Path returns the shv path meta field, used by requests and
// signals.
func (m *Message) Path() (string, bool) {
	v, ok := m.v.Meta.GetInt(metaShvPath)
	if !ok {
		return "", false
	}
	return v.String2(), true
}

func (m *Message) SetPath(path string) *Message {
	m.v.Meta.SetInt(metaShvPath, shvdata.NewString(path))
	return m
}

// Method returns the request's method name, or the signal's name.
func (m *Message) Method() (string, bool) {
	v, ok := m.v.Meta.GetInt(metaMethod)
	if !ok {
		return "", false
	}
	return v.String2(), true
}

// CallerIDs returns the caller-id stack, outermost first.
func (m *Message) CallerIDs() []uint64 {
	v, ok := m.v.Meta.GetInt(metaCallerIDs)
	if !ok {
		return nil
	}
	items := v.List()
	out := make([]uint64, len(items))
	for i, item := range items {
		out[i] = item.UInt()
	}
	return out
}

// SetCallerIDs overwrites the caller-id stack.
func (m *Message) SetCallerIDs(ids []uint64) *Message {
	m.v.Meta.SetInt(metaCallerIDs, callerIDsValue(ids))
	return m
}

// PushCallerID pushes id onto the front of the caller-id stack, the
// operation a broker performs before forwarding a request upstream.
func (m *Message) PushCallerID(id uint64) *Message {
	ids := append([]uint64{id}, m.CallerIDs()...)
	return m.SetCallerIDs(ids)
}

// PopCallerID pops the front id off the stack and returns it, the
// operation a broker performs on a response to choose the next hop.
func (m *Message) PopCallerID() (uint64, bool) {
	ids := m.CallerIDs()
	if len(ids) == 0 {
		return 0, false
	}
	m.SetCallerIDs(ids[1:])
	return ids[0], true
}

// Access returns the access level string meta field, if present.
func (m *Message) Access() (string, bool) {
	v, ok := m.v.Meta.GetInt(metaAccess)
	if !ok {
		return "", false
	}
	return v.String2(), true
}

func (m *Message) SetAccess(access string) *Message {
	m.v.Meta.SetInt(metaAccess, shvdata.NewString(access))
	return m
}

// UserID returns the user_id meta field, if present.
func (m *Message) UserID() (string, bool) {
	v, ok := m.v.Meta.GetInt(metaUserID)
	if !ok {
		return "", false
	}
	return v.String2(), true
}

func (m *Message) SetUserID(userID string) *Message {
	m.v.Meta.SetInt(metaUserID, shvdata.NewString(userID))
	return m
}

// Source returns the signal's source method name, if present.
func (m *Message) Source() (string, bool) {
	v, ok := m.v.Meta.GetInt(metaSource)
	if !ok {
		return "", false
	}
	return v.String2(), true
}

func (m *Message) SetSource(source string) *Message {
	m.v.Meta.SetInt(metaSource, shvdata.NewString(source))
	return m
}

// Delay returns the progress-response delay fraction in [0,1], if
// present.
func (m *Message) Delay() (float64, bool) {
	v, ok := m.v.Meta.GetInt(metaDelay)
	if !ok {
		return 0, false
	}
	return v.Double(), true
}

func (m *Message) SetDelay(delay float64) *Message {
	m.v.Meta.SetInt(metaDelay, shvdata.Double(delay))
	return m
}

// IsAbort reports whether this request carries the abort marker.
func (m *Message) IsAbort() bool {
	v, ok := m.v.Meta.GetInt(metaAbort)
	return ok && v.Bool()
}

func (m *Message) SetAbort() *Message {
	m.v.Meta.SetInt(metaAbort, shvdata.Bool(true))
	return m
}

// Param returns the request's/signal's param body, or Null if unset.
func (m *Message) Param() *shvdata.Value {
	return m.bodyGet(bodyParam)
}

func (m *Message) SetParam(v *shvdata.Value) *Message {
	return m.bodySet(bodyParam, v)
}

// Result returns the response's result body, or Null if unset.
func (m *Message) Result() *shvdata.Value {
	return m.bodyGet(bodyResult)
}

func (m *Message) SetResult(v *shvdata.Value) *Message {
	return m.bodySet(bodyResult, v)
}

// Err returns the response's error, or nil if there is none.
func (m *Message) Err() *RPCError {
	ev := m.bodyGet(bodyError)
	if ev == nil || ev.IsNull() || ev.Kind != shvdata.KindIMap {
		return nil
	}
	code := ErrorKind(InternalErr)
	if c, ok := ev.IMap()[errCode]; ok {
		code = ErrorKind(c.Int())
	}
	msg := ""
	if mv, ok := ev.IMap()[errMsg]; ok {
		msg = mv.String2()
	}
	return &RPCError{Kind: code, Message: msg}
}

func (m *Message) SetErr(e *RPCError) *Message {
	ev := shvdata.NewIMap(nil)
	ev.SetIMapKey(errCode, shvdata.Int64(int64(e.Kind)))
	ev.SetIMapKey(errMsg, shvdata.NewString(e.Message))
	return m.bodySet(bodyError, ev)
}

func (m *Message) bodyGet(key int) *shvdata.Value {
	if m.v.IMap() == nil {
		return shvdata.Null()
	}
	v, ok := m.v.IMap()[key]
	if !ok {
		return shvdata.Null()
	}
	return v
}

func (m *Message) bodySet(key int, v *shvdata.Value) *Message {
	m.v.SetIMapKey(key, v)
	return m
}
