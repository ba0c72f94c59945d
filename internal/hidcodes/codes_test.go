package hidcodes

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCharToHIDLowercaseLetters(t *testing.T) {
	// a..z occupy a contiguous scan code range starting at 0x04.
	for i := 0; i < 26; i++ {
		char := string(rune('a' + i))
		mod, code, err := CharToHID(char)
		require.NoError(t, err, "char %q", char)
		assert.Equal(t, ModNone, mod, "char %q", char)
		assert.Equal(t, byte(0x04+i), code, "char %q", char)
	}
}

func TestCharToHIDUppercaseLetters(t *testing.T) {
	for i := 0; i < 26; i++ {
		lower := string(rune('a' + i))
		upper := string(rune('A' + i))

		_, lowerCode, err := CharToHID(lower)
		require.NoError(t, err)

		mod, upperCode, err := CharToHID(upper)
		require.NoError(t, err, "char %q", upper)
		assert.Equal(t, ModLeftShift, mod, "char %q", upper)
		assert.Equal(t, lowerCode, upperCode, "upper/lower scan codes must match for %q", upper)
	}
}

func TestCharToHIDShiftedSymbols(t *testing.T) {
	mod, code, err := CharToHID("!")
	require.NoError(t, err)
	assert.Equal(t, ModLeftShift, mod)

	_, oneCode, err := CharToHID("1")
	require.NoError(t, err)
	assert.Equal(t, oneCode, code, "'!' shares the physical key of '1'")
}

func TestCharToHIDUnmapped(t *testing.T) {
	for _, char := range []string{"\x07", "é", "→", "\n"} {
		_, _, err := CharToHID(char)
		assert.ErrorIs(t, err, ErrUnmappedChar, "char %q", char)
	}
}

func TestShiftTableHasNoDanglingReferences(t *testing.T) {
	// Every shifted character must map to a base character that itself
	// has a scan code.
	for shifted, base := range shiftChars {
		_, ok := keyCodes[base]
		assert.True(t, ok, "shifted char %q references unmapped base %q", shifted, base)
	}
}

func TestKeyNameToHID(t *testing.T) {
	code, err := KeyNameToHID("Enter")
	require.NoError(t, err)
	assert.Equal(t, byte(0x28), code)

	// Multi-character names are case-sensitive.
	_, err = KeyNameToHID("enter")
	assert.ErrorIs(t, err, ErrUnknownKey)

	// Single characters are not.
	upper, err := KeyNameToHID("A")
	require.NoError(t, err)
	lower, err := KeyNameToHID("a")
	require.NoError(t, err)
	assert.Equal(t, lower, upper)

	_, err = KeyNameToHID("NoSuchKey")
	assert.ErrorIs(t, err, ErrUnknownKey)
}

func TestModifiersToBitmask(t *testing.T) {
	mask, err := ModifiersToBitmask([]string{"ctrl", "shift"})
	require.NoError(t, err)
	assert.Equal(t, ModLeftCtrl|ModLeftShift, mask)

	mask, err = ModifiersToBitmask(nil)
	require.NoError(t, err)
	assert.Equal(t, ModNone, mask)

	mask, err = ModifiersToBitmask([]string{"Right_Alt", "META"})
	require.NoError(t, err)
	assert.Equal(t, ModRightAlt|ModLeftMeta, mask)

	mask, err = ModifiersToBitmask([]string{"ctrl", "bogus"})
	assert.ErrorIs(t, err, ErrUnknownModifier)
	assert.Equal(t, byte(0), mask, "failed call must not return a partial bitmask")
}

func TestButtonToBitmask(t *testing.T) {
	for name, want := range map[string]byte{
		"left":   ButtonLeft,
		"Right":  ButtonRight,
		"MIDDLE": ButtonMiddle,
	} {
		got, err := ButtonToBitmask(name)
		require.NoError(t, err, "button %q", name)
		assert.Equal(t, want, got)
	}

	_, err := ButtonToBitmask("banana")
	assert.ErrorIs(t, err, ErrUnknownButton)
}
