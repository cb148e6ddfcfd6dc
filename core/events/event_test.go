package events

import (
	"testing"

	"github.com/holiman/uint256"
)

func TestFanoutForwardsToEveryEmitter(t *testing.T) {
	first := &Recorder{}
	second := &Recorder{}
	fan := Fanout{first, nil, second}

	fan.Emit(Transfer{Amount: uint256.NewInt(3)})

	for i, rec := range []*Recorder{first, second} {
		if types := rec.Types(); len(types) != 1 || types[0] != TypeTransfer {
			t.Fatalf("emitter %d got %v", i, types)
		}
	}
}

func TestTransferEventAttributes(t *testing.T) {
	var from, to [20]byte
	from[0] = 1
	to[0] = 2
	evt := Transfer{From: from, To: to, Amount: uint256.NewInt(1500), Memo: "refund"}.Event()

	if evt.Type != TypeTransfer {
		t.Fatalf("type = %q", evt.Type)
	}
	if evt.Attributes["amount"] != "1500" || evt.Attributes["memo"] != "refund" {
		t.Fatalf("unexpected attributes %v", evt.Attributes)
	}
	if evt.Attributes["from"] == evt.Attributes["to"] {
		t.Fatalf("from and to rendered identically")
	}
}

func TestBroadcasterDeliversAndDropsWhenFull(t *testing.T) {
	b := NewBroadcaster(1)
	ch, cancel := b.Subscribe()
	if n := b.Subscribers(); n != 1 {
		t.Fatalf("subscribers = %d", n)
	}

	b.Emit(Transfer{Amount: uint256.NewInt(1)})
	b.Emit(Transfer{Amount: uint256.NewInt(2)})

	evt := <-ch
	if got := evt.(Transfer).Amount.Uint64(); got != 1 {
		t.Fatalf("first event amount = %d", got)
	}
	select {
	case extra := <-ch:
		t.Fatalf("unexpected buffered event %v", extra)
	default:
	}

	cancel()
	cancel()
	if n := b.Subscribers(); n != 0 {
		t.Fatalf("subscribers after cancel = %d", n)
	}
	if _, open := <-ch; open {
		t.Fatalf("channel still open after cancel")
	}
	b.Emit(Transfer{Amount: uint256.NewInt(3)})
}

func TestRenderedEventCloneIsIndependent(t *testing.T) {
	evt := Transfer{Amount: uint256.NewInt(9)}.Event()
	clone := evt.Clone()
	clone.Attributes["amount"] = "0"

	if evt.Attr("amount") != "9" || clone.Attr("amount") != "0" {
		t.Fatalf("clone shares attributes: %q %q", evt.Attr("amount"), clone.Attr("amount"))
	}
	if evt.Attr("missing") != "" {
		t.Fatalf("missing attribute rendered %q", evt.Attr("missing"))
	}
}
