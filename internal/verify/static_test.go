package verify

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloisterhq/warden/internal/config"
	"github.com/cloisterhq/warden/internal/engine"
	"github.com/cloisterhq/warden/internal/ruletable"
	"github.com/cloisterhq/warden/internal/state"
	"github.com/cloisterhq/warden/internal/topology"
)

func TestCompare(t *testing.T) {
	cases := []struct {
		name    string
		st      *state.FirewallState
		counts  engine.Counts
		wantErr bool
	}{
		{
			name:   "sovereign with full rule set",
			st:     &state.FirewallState{Mode: state.ModeSovereign},
			counts: engine.Counts{V4: 6},
		},
		{
			name:    "sovereign with missing rules",
			st:      &state.FirewallState{Mode: state.ModeSovereign},
			counts:  engine.Counts{V4: 3},
			wantErr: true,
		},
		{
			name:   "sovereign ipv6 satisfied",
			st:     &state.FirewallState{Mode: state.ModeSovereign, ProtectedSubnetV6: "fd00:20::/64"},
			counts: engine.Counts{V4: 6, V6: 4},
		},
		{
			name:    "sovereign ipv6 missing",
			st:      &state.FirewallState{Mode: state.ModeSovereign, ProtectedSubnetV6: "fd00:20::/64"},
			counts:  engine.Counts{V4: 6, V6: 0},
			wantErr: true,
		},
		{
			name:   "connected clean",
			st:     &state.FirewallState{Mode: state.ModeConnected},
			counts: engine.Counts{},
		},
		{
			name:    "connected with leftover rules",
			st:      &state.FirewallState{Mode: state.ModeConnected},
			counts:  engine.Counts{V4: 2},
			wantErr: true,
		},
		{
			name:   "unknown clean",
			st:     &state.FirewallState{Mode: state.ModeUnknown},
			counts: engine.Counts{},
		},
		{
			name:    "unknown with orphaned rules",
			st:      &state.FirewallState{Mode: state.ModeUnknown},
			counts:  engine.Counts{DMZ: 1},
			wantErr: true,
		},
		{
			name:   "sovereign dmz satisfied",
			st:     &state.FirewallState{Mode: state.ModeSovereign, DMZSubnet: "172.21.0.0/16"},
			counts: engine.Counts{V4: 6, DMZ: 5},
		},
		{
			name:    "sovereign dmz rules missing",
			st:      &state.FirewallState{Mode: state.ModeSovereign, DMZSubnet: "172.21.0.0/16"},
			counts:  engine.Counts{V4: 6, DMZ: 0},
			wantErr: true,
		},
		{
			name:    "sovereign dmz rules incomplete",
			st:      &state.FirewallState{Mode: state.ModeSovereign, DMZSubnet: "172.21.0.0/16"},
			counts:  engine.Counts{V4: 6, DMZ: 2},
			wantErr: true,
		},
		{
			name:   "sovereign without dmz ignores dmz count",
			st:     &state.FirewallState{Mode: state.ModeSovereign},
			counts: engine.Counts{V4: 6, DMZ: 0},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := compare(tc.st, tc.counts, 5)
			if tc.wantErr {
				require.ErrorIs(t, err, ErrMismatch)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestStatic_Check_DetectsDrift(t *testing.T) {
	cfg := config.DefaultConfig()
	v4 := ruletable.NewFake()
	eng := engine.New(cfg, v4, ruletable.NewFake())

	store := state.NewStore(t.TempDir())
	require.NoError(t, store.Write(&state.FirewallState{
		Mode:              state.ModeSovereign,
		ProtectedSubnetV4: "172.20.0.0/16",
	}))

	// Claimed sovereign, but the table is empty.
	st, counts, err := NewStatic(cfg, eng, store).Check(context.Background())
	require.ErrorIs(t, err, ErrMismatch)
	assert.Equal(t, state.ModeSovereign, st.Mode)
	assert.Zero(t, counts.V4)

	// After a real apply the check passes.
	_, err = eng.ApplySovereign(context.Background(), &topology.Topology{
		CoreV4: "172.20.0.0/16", Method: topology.MethodExact,
	})
	require.NoError(t, err)

	_, counts, err = NewStatic(cfg, eng, store).Check(context.Background())
	require.NoError(t, err)
	assert.Equal(t, engine.SovereignV4Rules, counts.V4)
}

func TestStatic_Check_DMZDrift(t *testing.T) {
	cfg := config.DefaultConfig()
	eng := engine.New(cfg, ruletable.NewFake(), ruletable.NewFake())

	store := state.NewStore(t.TempDir())
	require.NoError(t, store.Write(&state.FirewallState{
		Mode:              state.ModeSovereign,
		ProtectedSubnetV4: "172.20.0.0/16",
		DMZSubnet:         "172.21.0.0/16",
	}))

	// Core rules present but every DMZ rule missing.
	_, err := eng.ApplySovereign(context.Background(), &topology.Topology{
		CoreV4: "172.20.0.0/16", Method: topology.MethodExact,
	})
	require.NoError(t, err)

	_, _, err = NewStatic(cfg, eng, store).Check(context.Background())
	require.ErrorIs(t, err, ErrMismatch)
	assert.Contains(t, err.Error(), "DMZ")
}

func TestStatic_Check_FirstRunIsClean(t *testing.T) {
	cfg := config.DefaultConfig()
	eng := engine.New(cfg, ruletable.NewFake(), ruletable.NewFake())
	store := state.NewStore(t.TempDir())

	st, _, err := NewStatic(cfg, eng, store).Check(context.Background())
	require.NoError(t, err)
	assert.Equal(t, state.ModeUnknown, st.Mode)
}
