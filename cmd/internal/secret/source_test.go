package secret

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSourcePrefersEnvironment(t *testing.T) {
	t.Setenv("ESCROW_TEST_SECRET", "from-env")
	src := NewSource("ESCROW_TEST_SECRET", "signing key")
	src.isTerminal = func(int) bool { t.Fatal("unexpected terminal check"); return false }
	value, err := src.Get()
	require.NoError(t, err)
	require.Equal(t, "from-env", value)
}

func TestSourceRejectsBlankEnvironment(t *testing.T) {
	t.Setenv("ESCROW_TEST_SECRET", "  ")
	_, err := NewSource("ESCROW_TEST_SECRET", "signing key").Get()
	require.ErrorContains(t, err, "set but empty")
}

func TestSourcePromptsOnce(t *testing.T) {
	var prompt bytes.Buffer
	calls := 0
	src := NewSource("", "signing key")
	src.prompt = &prompt
	src.isTerminal = func(int) bool { return true }
	src.readPassword = func(int) ([]byte, error) {
		calls++
		return []byte("typed"), nil
	}
	for i := 0; i < 2; i++ {
		value, err := src.Get()
		require.NoError(t, err)
		require.Equal(t, "typed", value)
	}
	require.Equal(t, 1, calls)
	require.Contains(t, prompt.String(), "Enter signing key: ")
}

func TestSourceWithoutTerminal(t *testing.T) {
	src := NewSource("ESCROW_TEST_UNSET_SECRET", "signing key")
	src.isTerminal = func(int) bool { return false }
	_, err := src.Get()
	require.True(t, errors.Is(err, ErrNoTerminal))
	require.ErrorContains(t, err, "ESCROW_TEST_UNSET_SECRET")

	blank := NewSource("", "signing key")
	blank.prompt = &bytes.Buffer{}
	blank.isTerminal = func(int) bool { return true }
	blank.readPassword = func(int) ([]byte, error) { return []byte(" "), nil }
	_, err = blank.Get()
	require.ErrorContains(t, err, "cannot be empty")
}
