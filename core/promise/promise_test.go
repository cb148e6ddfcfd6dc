package promise

import (
	"errors"
	"testing"

	"github.com/holiman/uint256"
)

func addr(fill byte) [20]byte {
	var out [20]byte
	for i := range out {
		out[i] = fill
	}
	return out
}

func TestJoinThenShape(t *testing.T) {
	a := New(NewCall(addr(1), "create_dao", []byte(`{}`), uint256.NewInt(10), 150*TGas))
	b := New(NewCall(addr(2), "create_ft", nil, uint256.NewInt(5), 50*TGas))
	p := a.And(b).Then(NewCall(addr(3), "on_delegate_callback", nil, nil, 2*TGas))

	if err := p.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	cont, ok := p.Call()
	if !ok {
		t.Fatalf("continuation has no call")
	}
	if cont.Method != "on_delegate_callback" || !cont.Attached.IsZero() {
		t.Fatalf("unexpected continuation %+v", cont)
	}

	parent := p.Parent()
	if !parent.IsJoin() || len(parent.Joined()) != 2 {
		t.Fatalf("parent is not a two-member join")
	}

	calls := p.Calls()
	want := []string{"create_dao", "create_ft", "on_delegate_callback"}
	if len(calls) != len(want) {
		t.Fatalf("calls = %d, want %d", len(calls), len(want))
	}
	for i, method := range want {
		if calls[i].Method != method {
			t.Fatalf("call %d = %q, want %q", i, calls[i].Method, method)
		}
	}
}

func TestNewCallCopiesInputs(t *testing.T) {
	args := []byte("x")
	value := uint256.NewInt(7)
	call := NewCall(addr(1), "m", args, value, TGas)
	args[0] = 'y'
	value.SetUint64(9)
	if string(call.Args) != "x" {
		t.Fatalf("args aliased caller slice: %q", call.Args)
	}
	if call.Attached.Uint64() != 7 {
		t.Fatalf("attached aliased caller value: %d", call.Attached.Uint64())
	}
}

func TestValidateRejectsEmpty(t *testing.T) {
	var nilPromise *Promise
	if err := nilPromise.Validate(); !errors.Is(err, ErrEmptyPromise) {
		t.Fatalf("nil promise: %v", err)
	}
	if err := All().Validate(); !errors.Is(err, ErrEmptyPromise) {
		t.Fatalf("empty join: %v", err)
	}
	if err := New(Call{Target: addr(1)}).Validate(); err == nil {
		t.Fatalf("call without method validated")
	}
}

func TestDecodeBool(t *testing.T) {
	tests := []struct {
		name    string
		result  Result
		want    bool
		wantErr error
	}{
		{name: "true", result: Successful([]byte("true")), want: true},
		{name: "false", result: Successful([]byte("false")), want: false},
		{name: "failed", result: Failed(), wantErr: ErrNotSuccessful},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := DecodeBool(tc.result)
			if tc.wantErr != nil {
				if !errors.Is(err, tc.wantErr) {
					t.Fatalf("expected %v, got %v", tc.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("decode: %v", err)
			}
			if got != tc.want {
				t.Fatalf("got %v, want %v", got, tc.want)
			}
		})
	}

	if _, err := DecodeBool(Successful([]byte(`"yes"`))); err == nil {
		t.Fatalf("string payload decoded as bool")
	}
}
