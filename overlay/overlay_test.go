package overlay_test

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/LatticeX-Foundation/rosetta-io-go/overlay"
)

// roleSplitConfig builds a role-split scenario: data=[A], compute=[B,C],
// result=[D].
func roleSplitConfig() []byte {
	return []byte(`{
		"NODE_INFO": [
			{"NODE_ID":"A","NAME":"a","HOST":"h","PORT":9001},
			{"NODE_ID":"B","NAME":"b","HOST":"h","PORT":9002},
			{"NODE_ID":"C","NAME":"c","HOST":"h","PORT":9003},
			{"NODE_ID":"D","NAME":"d","HOST":"h","PORT":9004}
		],
		"DATA_NODES": ["A"],
		"COMPUTATION_NODES": {"B": 0, "C": 1},
		"RESULT_NODES": ["D"],
		"CONNECT_PARAMS": {"TIMEOUT": 5, "RETRIES": 3}
	}`)
}

func TestRoleResolution(t *testing.T) {
	cfg := roleSplitConfig()

	topo, err := overlay.Resolve("A", cfg)
	require.NoError(t, err)
	require.Equal(t, overlay.RoleData, topo.Role)

	topo, err = overlay.Resolve("B", cfg)
	require.NoError(t, err)
	require.Equal(t, overlay.RoleCompute, topo.Role)

	topo, err = overlay.Resolve("D", cfg)
	require.NoError(t, err)
	require.Equal(t, overlay.RoleResult, topo.Role)
}

func TestRoleSplitPeerCounts(t *testing.T) {
	cfg := roleSplitConfig()
	// For node B: clientInfos ∪ serverInfos = {A,C,D}, sum of sizes == 3.
	topo, err := overlay.Resolve("B", cfg)
	require.NoError(t, err)
	ids := topo.GetConnectedNodeIDs()
	require.ElementsMatch(t, []string{"A", "C", "D"}, ids)
	require.Len(t, topo.ClientInfos, len(topo.ClientInfos))
	require.Equal(t, 3, len(topo.ClientInfos)+len(topo.ServerInfos))
}

func TestExactlyOneDialerPerPair(t *testing.T) {
	cfg := roleSplitConfig()
	topos := map[string]*overlay.Topology{}
	for _, id := range []string{"A", "B", "C", "D"} {
		topo, err := overlay.Resolve(id, cfg)
		require.NoError(t, err)
		topos[id] = topo
	}
	// For every unordered pair present in both topologies' peer sets,
	// exactly one side must have the other in ServerInfos (dials) and the
	// other must have it in ClientInfos (listens).
	pairs := [][2]string{{"A", "B"}, {"A", "C"}, {"B", "C"}, {"B", "D"}, {"C", "D"}}
	for _, p := range pairs {
		aDials := inServerInfos(topos[p[0]], p[1])
		bDials := inServerInfos(topos[p[1]], p[0])
		require.NotEqual(t, aDials, bDials, "pair %v: exactly one side must dial", p)
	}
}

func inServerInfos(topo *overlay.Topology, id string) bool {
	if topo == nil {
		return false
	}
	for _, n := range topo.ServerInfos {
		if n.ID == id {
			return true
		}
	}
	return false
}

func TestMissingNodeListsTolerated(t *testing.T) {
	cfg := []byte(`{"NODE_INFO":[{"NODE_ID":"A","HOST":"h","PORT":9001},{"NODE_ID":"B","HOST":"h","PORT":9002}]}`)
	topo, err := overlay.Resolve("A", cfg)
	require.NoError(t, err)
	require.Empty(t, topo.DataNodeIDs)
	require.Equal(t, 10000, topo.Connect.TimeoutMs)
	require.Equal(t, 5, topo.Connect.Retries)
}

func TestMissingNodeInfoIsFatal(t *testing.T) {
	_, err := overlay.Resolve("A", []byte(`{}`))
	require.ErrorIs(t, err, overlay.ErrConfig)
}

func TestCurrentNodeMustBePresent(t *testing.T) {
	cfg := []byte(`{"NODE_INFO":[{"NODE_ID":"Z","HOST":"h","PORT":1}]}`)
	_, err := overlay.Resolve("A", cfg)
	require.ErrorIs(t, err, overlay.ErrConfig)
}

func TestPortlessNodeDialsEveryPeer(t *testing.T) {
	// A.Port<=0 forces A to dial every eligible peer (it cannot be listened to).
	cfg := []byte(fmt.Sprintf(`{
		"NODE_INFO": [
			{"NODE_ID":"A","HOST":"h","PORT":0},
			{"NODE_ID":"B","HOST":"h","PORT":9002}
		],
		"DATA_NODES": ["A"],
		"COMPUTATION_NODES": {"B": 0}
	}`))
	topo, err := overlay.Resolve("A", cfg)
	require.NoError(t, err)
	require.Len(t, topo.ServerInfos, 1)
	require.Empty(t, topo.ClientInfos)
}
