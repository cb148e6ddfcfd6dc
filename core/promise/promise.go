// Package promise models asynchronous cross-account calls. A Promise is a
// value describing work for the host runtime: single calls, joins of several
// promises that settle together, and continuations that receive the ordered
// results of the promise they follow. Building a promise has no side effects;
// the runtime executes it after the scheduling invocation commits.
package promise

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/holiman/uint256"
)

// Gas is the compute budget attached to a call.
type Gas uint64

// TGas is one tera-gas unit.
const TGas Gas = 1_000_000_000_000

// Call describes a single function call on a target account.
type Call struct {
	Target   [20]byte
	Method   string
	Args     []byte
	Attached *uint256.Int
	Gas      Gas
}

// NewCall returns a call with a defensive copy of args and attached value.
func NewCall(target [20]byte, method string, args []byte, attached *uint256.Int, gas Gas) Call {
	value := new(uint256.Int)
	if attached != nil {
		value.Set(attached)
	}
	return Call{
		Target:   target,
		Method:   method,
		Args:     append([]byte(nil), args...),
		Attached: value,
		Gas:      gas,
	}
}

// Status reports how a call settled.
type Status uint8

const (
	// StatusFailed means the call could not be executed or its handler
	// aborted. No payload is available.
	StatusFailed Status = iota
	// StatusSuccessful means the call executed and returned a payload.
	StatusSuccessful
)

func (s Status) String() string {
	switch s {
	case StatusSuccessful:
		return "successful"
	case StatusFailed:
		return "failed"
	default:
		return fmt.Sprintf("status(%d)", uint8(s))
	}
}

// Result is the settled outcome of one call.
type Result struct {
	Status  Status
	Payload []byte
}

// Successful wraps a returned payload.
func Successful(payload []byte) Result {
	return Result{Status: StatusSuccessful, Payload: append([]byte(nil), payload...)}
}

// Failed returns a transport-level failure result.
func Failed() Result { return Result{Status: StatusFailed} }

// Succeeded reports whether the call executed.
func (r Result) Succeeded() bool { return r.Status == StatusSuccessful }

var (
	// ErrNotSuccessful is returned when decoding the payload of a failed call.
	ErrNotSuccessful = errors.New("promise: result not successful")
	// ErrEmptyPromise is returned when a promise has nothing to execute.
	ErrEmptyPromise = errors.New("promise: empty promise")
)

// DecodeBool interprets a successful payload as a JSON boolean.
func DecodeBool(r Result) (bool, error) {
	if !r.Succeeded() {
		return false, ErrNotSuccessful
	}
	var out bool
	if err := json.Unmarshal(r.Payload, &out); err != nil {
		return false, fmt.Errorf("promise: decode bool: %w", err)
	}
	return out, nil
}

// Promise is an immutable description of pending calls.
type Promise struct {
	call   *Call
	parent *Promise
	joined []*Promise
}

// New returns a promise for a single call.
func New(call Call) *Promise {
	c := call
	return &Promise{call: &c}
}

// All joins promises so their continuation runs once every member settled,
// regardless of individual outcomes. Results are delivered in argument order.
func All(promises ...*Promise) *Promise {
	joined := make([]*Promise, 0, len(promises))
	for _, p := range promises {
		if p != nil {
			joined = append(joined, p)
		}
	}
	return &Promise{joined: joined}
}

// And joins p with other. It is shorthand for All(p, other).
func (p *Promise) And(other *Promise) *Promise { return All(p, other) }

// Then chains call after p. The call receives the ordered results of p.
func (p *Promise) Then(call Call) *Promise {
	c := call
	return &Promise{call: &c, parent: p}
}

// Call returns the call executed by this node, if any. For continuations this
// is the continuation call.
func (p *Promise) Call() (Call, bool) {
	if p == nil || p.call == nil {
		return Call{}, false
	}
	return *p.call, true
}

// Parent returns the promise a continuation waits on.
func (p *Promise) Parent() *Promise {
	if p == nil {
		return nil
	}
	return p.parent
}

// Joined returns the members of a join node.
func (p *Promise) Joined() []*Promise {
	if p == nil {
		return nil
	}
	return append([]*Promise(nil), p.joined...)
}

// IsJoin reports whether p is a join node.
func (p *Promise) IsJoin() bool { return p != nil && p.call == nil }

// Validate ensures every node carries something to execute.
func (p *Promise) Validate() error {
	if p == nil {
		return ErrEmptyPromise
	}
	if p.call == nil {
		if len(p.joined) == 0 {
			return ErrEmptyPromise
		}
		for _, member := range p.joined {
			if err := member.Validate(); err != nil {
				return err
			}
		}
		return nil
	}
	if strings.TrimSpace(p.call.Method) == "" {
		return fmt.Errorf("promise: call to %x missing method", p.call.Target)
	}
	if p.parent != nil {
		return p.parent.Validate()
	}
	return nil
}

// Calls flattens the promise into execution order. Join members appear before
// the continuation that depends on them.
func (p *Promise) Calls() []Call {
	if p == nil {
		return nil
	}
	var out []Call
	if p.parent != nil {
		out = append(out, p.parent.Calls()...)
	}
	for _, member := range p.joined {
		out = append(out, member.Calls()...)
	}
	if p.call != nil {
		out = append(out, *p.call)
	}
	return out
}
