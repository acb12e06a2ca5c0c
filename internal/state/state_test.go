package state

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloisterhq/warden/internal/clock"
)

func TestParseMode(t *testing.T) {
	cases := []struct {
		in      string
		want    Mode
		wantErr bool
	}{
		{"sovereign", ModeSovereign, false},
		{"Sovereign", ModeSovereign, false},
		{" connected ", ModeConnected, false},
		{"unknown", ModeUnknown, true},
		{"", ModeUnknown, true},
		{"offline", ModeUnknown, true},
	}
	for _, tc := range cases {
		got, err := ParseMode(tc.in)
		if tc.wantErr {
			assert.Error(t, err, tc.in)
		} else {
			require.NoError(t, err, tc.in)
		}
		assert.Equal(t, tc.want, got, tc.in)
	}
}

func TestStore_Read_MissingFileIsUnknown(t *testing.T) {
	store := NewStore(t.TempDir())

	st, err := store.Read()
	require.NoError(t, err)
	assert.Equal(t, ModeUnknown, st.Mode)
	assert.Empty(t, st.ProtectedSubnetV4)
}

func TestStore_WriteRead_RoundTrip(t *testing.T) {
	clk := clock.NewMockClock(time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC))
	store := NewStoreWithClock(t.TempDir(), clk)

	in := &FirewallState{
		Mode:              ModeSovereign,
		ProtectedSubnetV4: "172.20.0.0/16",
		ProtectedSubnetV6: "fd00:20::/64",
		DMZSubnet:         "172.21.0.0/16",
	}
	require.NoError(t, store.Write(in))

	out, err := store.Read()
	require.NoError(t, err)
	assert.Equal(t, ModeSovereign, out.Mode)
	assert.Equal(t, "172.20.0.0/16", out.ProtectedSubnetV4)
	assert.Equal(t, "fd00:20::/64", out.ProtectedSubnetV6)
	assert.Equal(t, "172.21.0.0/16", out.DMZSubnet)
	assert.Equal(t, clk.Now().UTC(), out.LastChanged.UTC())
}

func TestStore_Write_FileFormat(t *testing.T) {
	dir := t.TempDir()
	clk := clock.NewMockClock(time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC))
	store := NewStoreWithClock(dir, clk)

	require.NoError(t, store.Write(&FirewallState{
		Mode:              ModeSovereign,
		ProtectedSubnetV4: "172.20.0.0/16",
	}))

	data, err := os.ReadFile(filepath.Join(dir, "state"))
	require.NoError(t, err)
	assert.Equal(t, "sovereign\n172.20.0.0/16\n2026-03-14T09:26:53Z\n", string(data))
}

func TestStore_Write_ConnectedHasNoSubnets(t *testing.T) {
	store := NewStore(t.TempDir())

	require.NoError(t, store.Write(&FirewallState{Mode: ModeConnected}))

	out, err := store.Read()
	require.NoError(t, err)
	assert.Equal(t, ModeConnected, out.Mode)
	assert.Empty(t, out.ProtectedSubnetV4)
	assert.Empty(t, out.DMZSubnet)
}

func TestStore_Write_Overwrites(t *testing.T) {
	store := NewStore(t.TempDir())

	require.NoError(t, store.Write(&FirewallState{Mode: ModeSovereign, ProtectedSubnetV4: "172.20.0.0/16"}))
	require.NoError(t, store.Write(&FirewallState{Mode: ModeConnected}))

	out, err := store.Read()
	require.NoError(t, err)
	assert.Equal(t, ModeConnected, out.Mode)
	assert.Empty(t, out.ProtectedSubnetV4, "old subnets must not leak into the new record")
}

func TestStore_Reset(t *testing.T) {
	store := NewStore(t.TempDir())

	require.NoError(t, store.Write(&FirewallState{Mode: ModeSovereign, ProtectedSubnetV4: "172.20.0.0/16"}))
	require.NoError(t, store.Reset())

	out, err := store.Read()
	require.NoError(t, err)
	assert.Equal(t, ModeUnknown, out.Mode)

	// Resetting an already-reset store is fine.
	require.NoError(t, store.Reset())
}

func TestStore_Read_MalformedFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "state"), []byte("sovereign\n"), 0o640))

	_, err := NewStore(dir).Read()
	assert.Error(t, err)
}

func TestStore_Read_UnrecognizedModeIsUnknown(t *testing.T) {
	dir := t.TempDir()
	content := "lockdown\n172.20.0.0/16\n2026-03-14T09:26:53Z\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "state"), []byte(content), 0o640))

	st, err := NewStore(dir).Read()
	require.NoError(t, err)
	assert.Equal(t, ModeUnknown, st.Mode)
	assert.Equal(t, "172.20.0.0/16", st.ProtectedSubnetV4)
}

func TestStore_TransitionLogAppends(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(dir)

	require.NoError(t, store.Write(&FirewallState{Mode: ModeSovereign, ProtectedSubnetV4: "172.20.0.0/16"}))
	require.NoError(t, store.Write(&FirewallState{Mode: ModeConnected}))

	data, err := os.ReadFile(filepath.Join(dir, "transitions.log"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "mode=sovereign v4=172.20.0.0/16")
	assert.Contains(t, string(data), "mode=connected v4=-")
}
