package ddcconf

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	opts, err := Load(filepath.Join(t.TempDir(), "does-not-exist"))
	require.NoError(t, err)
	require.Equal(t, Defaults(), opts)
}

func TestLoadParsesOptionsLine(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ddcctlrc")
	content := "[ddcctl]\noptions = maxtries=4,6,8,8,sleep-multiplier=2.5,disable-usb\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	opts, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, []int{4, 6, 8, 8}, opts.MaxTries)
	require.Equal(t, 2.5, opts.SleepMultiplier)
	require.False(t, opts.EnableUSB, "disable-usb should leave EnableUSB false")
}

func TestLoadRejectsUnknownOption(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ddcctlrc")
	content := "[ddcctl]\noptions = not-a-real-option\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	_, err := Load(path)
	require.Error(t, err)
}

func TestFlagSetOverridesBase(t *testing.T) {
	base := Defaults()
	base.SleepMultiplier = 1.0

	fs, out := FlagSet("ddcctl", base)
	require.NoError(t, fs.Parse([]string{"-sleep-multiplier=3.0", "-maxtries=5,5,5,5", "-enable-usb"}))

	require.Equal(t, 3.0, out.SleepMultiplier)
	require.Equal(t, []int{5, 5, 5, 5}, out.MaxTries)
	require.True(t, out.EnableUSB)
}

func TestFlagSetLeavesUnsetFlagsAtBase(t *testing.T) {
	base := Defaults()
	base.EDIDReadSize = 256

	fs, out := FlagSet("ddcctl", base)
	require.NoError(t, fs.Parse(nil))
	require.Equal(t, 256, out.EDIDReadSize)
}

func TestSerializeRoundTripsThroughApply(t *testing.T) {
	opts := Options{
		MaxTries:             []int{4, 6, 8, 8},
		SleepMultiplier:      1.5,
		DisableDisplaysCache: true,
		EDIDReadSize:         256,
	}
	s := Serialize(opts)

	got := Defaults()
	require.NoError(t, applyOptionsString(&got, s))
	require.Equal(t, []int{4, 6, 8, 8}, got.MaxTries)
	require.Equal(t, 1.5, got.SleepMultiplier)
	require.True(t, got.DisableDisplaysCache)
	require.Equal(t, 256, got.EDIDReadSize)
}
