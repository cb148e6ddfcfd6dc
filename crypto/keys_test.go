package crypto

import "testing"

func TestAccountAddressRoundTrip(t *testing.T) {
	key, err := GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}

	addr := key.PubKey().Address()
	if addr.Prefix() != AccountPrefix {
		t.Fatalf("prefix = %q, want %q", addr.Prefix(), AccountPrefix)
	}

	raw, err := ParseAccount(addr.String())
	if err != nil {
		t.Fatalf("parse %s: %v", addr, err)
	}
	if raw != addr.Raw() {
		t.Fatalf("round trip changed bytes: %x != %x", raw, addr.Raw())
	}
}

func TestParseAccountRejectsForeignPrefix(t *testing.T) {
	addr, err := NewAddress("other", make([]byte, AddressLength))
	if err != nil {
		t.Fatalf("new address: %v", err)
	}
	if _, err := ParseAccount(addr.String()); err == nil {
		t.Fatalf("foreign prefix accepted")
	}
}

func TestNewAddressLength(t *testing.T) {
	if _, err := NewAddress(AccountPrefix, []byte{1, 2, 3}); err == nil {
		t.Fatalf("short address accepted")
	}
}

func TestDeriveAccountDeterministic(t *testing.T) {
	if DeriveAccount("dao-factory") != DeriveAccount("dao-factory") {
		t.Fatalf("derivation is not deterministic")
	}
	if DeriveAccount("dao-factory") == DeriveAccount("ft-factory") {
		t.Fatalf("distinct labels derived the same account")
	}
}

func TestPrivateKeyFromBytes(t *testing.T) {
	key, err := GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}

	restored, err := PrivateKeyFromBytes(key.Bytes())
	if err != nil {
		t.Fatalf("restore key: %v", err)
	}
	if got, want := restored.PubKey().Address(), key.PubKey().Address(); got != want {
		t.Fatalf("restored address %s, want %s", got, want)
	}
}
