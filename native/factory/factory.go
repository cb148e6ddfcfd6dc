// Package factory provides reference DAO and fungible token factories. They
// accept the calls an escrow issues during delegation, record the created
// entity in state and answer with a JSON boolean. Local deployments and the
// end-to-end tests register them with the host runtime.
package factory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/holiman/uint256"

	"poolescrow/core/runtime"
	"poolescrow/crypto"
	"poolescrow/native/escrow"
)

// Kind distinguishes the two factories.
type Kind string

const (
	KindDAO   Kind = "dao"
	KindToken Kind = "ft"
)

var (
	ErrUnknownMethod = errors.New("factory: unknown method")
	ErrInvalidArgs   = errors.New("factory: invalid arguments")
	ErrUnavailable   = errors.New("factory: unavailable")
)

type kvStore interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
}

type refunder interface {
	Transfer(ctx context.Context, from, to [20]byte, amount *uint256.Int) error
}

// Entity is the stored record of a created DAO or token.
type Entity struct {
	Name    string
	Creator [20]byte
	Funds   *uint256.Int
	Members []string
}

// Factory creates named entities of one kind. Names are unique per factory; a
// second request for a taken name answers false and refunds the attachment.
type Factory struct {
	kind    Kind
	account [20]byte
	store   kvStore
	bank    refunder
	logger  *slog.Logger
	// unavailable makes every call fail at the transport level.
	unavailable bool
}

// NewDAOFactory returns the factory answering create_dao on account.
func NewDAOFactory(account [20]byte, store kvStore, bank refunder) *Factory {
	return newFactory(KindDAO, account, store, bank)
}

// NewTokenFactory returns the factory answering create_ft on account.
func NewTokenFactory(account [20]byte, store kvStore, bank refunder) *Factory {
	return newFactory(KindToken, account, store, bank)
}

func newFactory(kind Kind, account [20]byte, store kvStore, bank refunder) *Factory {
	return &Factory{kind: kind, account: account, store: store, bank: bank, logger: slog.Default()}
}

// SetLogger configures the structured logger. Nil restores slog.Default.
func (f *Factory) SetLogger(logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	f.logger = logger
}

// SetUnavailable toggles transport-level failure of every call.
func (f *Factory) SetUnavailable(v bool) { f.unavailable = v }

// Account returns the identity the factory is registered under.
func (f *Factory) Account() [20]byte { return f.account }

func (f *Factory) method() string {
	if f.kind == KindDAO {
		return escrow.MethodCreateDAO
	}
	return escrow.MethodCreateFT
}

func (f *Factory) key(name string) []byte {
	return []byte("factory/" + string(f.kind) + "/" + strings.ToLower(name))
}

// Handle implements runtime.Handler.
func (f *Factory) Handle(ctx context.Context, inv runtime.Invocation) ([]byte, error) {
	if f.unavailable {
		return nil, ErrUnavailable
	}
	if inv.Method != f.method() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownMethod, inv.Method)
	}
	name, members, err := f.decode(inv.Args)
	if err != nil {
		return nil, err
	}
	var existing Entity
	taken, err := f.store.KVGet(f.key(name), &existing)
	if err != nil {
		return nil, err
	}
	if taken {
		if f.bank != nil && inv.Attached != nil && !inv.Attached.IsZero() {
			if err := f.bank.Transfer(ctx, f.account, inv.Caller, inv.Attached); err != nil {
				return nil, fmt.Errorf("factory: refund: %w", err)
			}
		}
		f.logger.InfoContext(ctx, "factory name taken",
			slog.String("kind", string(f.kind)),
			slog.String("name", name),
			slog.String("caller", crypto.AccountAddress(inv.Caller).String()))
		return json.Marshal(false)
	}
	funds := new(uint256.Int)
	if inv.Attached != nil {
		funds.Set(inv.Attached)
	}
	entity := Entity{Name: name, Creator: inv.Caller, Funds: funds, Members: members}
	if err := f.store.KVPut(f.key(name), &entity); err != nil {
		return nil, err
	}
	f.logger.InfoContext(ctx, "factory entity created",
		slog.String("kind", string(f.kind)),
		slog.String("name", name),
		slog.Int("members", len(members)),
		slog.String("funds", funds.Dec()))
	return json.Marshal(true)
}

func (f *Factory) decode(raw []byte) (string, []string, error) {
	if f.kind == KindDAO {
		var args escrow.CreateDAOArgs
		if err := json.Unmarshal(raw, &args); err != nil {
			return "", nil, fmt.Errorf("%w: %v", ErrInvalidArgs, err)
		}
		if strings.TrimSpace(args.DAOName) == "" {
			return "", nil, fmt.Errorf("%w: dao_name required", ErrInvalidArgs)
		}
		return args.DAOName, args.Deposits, nil
	}
	var args escrow.CreateFTArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return "", nil, fmt.Errorf("%w: %v", ErrInvalidArgs, err)
	}
	if strings.TrimSpace(args.Name) == "" {
		return "", nil, fmt.Errorf("%w: name required", ErrInvalidArgs)
	}
	return args.Name, nil, nil
}

// Lookup returns the entity created under name.
func (f *Factory) Lookup(name string) (*Entity, bool, error) {
	var entity Entity
	ok, err := f.store.KVGet(f.key(name), &entity)
	if err != nil || !ok {
		return nil, false, err
	}
	return &entity, true, nil
}

// Reserve pre-registers name so the next create call for it answers false.
func (f *Factory) Reserve(name string) error {
	return f.store.KVPut(f.key(name), &Entity{Name: name, Funds: new(uint256.Int), Members: []string{}})
}
