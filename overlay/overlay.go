// Package overlay resolves a node's role and peer lists from the overlay
// configuration document. It is the only place that reads the JSON shape
// produced by the external config parser; everything downstream of
// Resolve deals in typed NodeSpec/Topology values.
/*
 * Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
 */
package overlay

import (
	"sort"

	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"

	"github.com/LatticeX-Foundation/rosetta-io-go/cmn/nlog"
)

type Role string

const (
	RoleData    Role = "data"
	RoleCompute Role = "compute"
	RoleResult  Role = "result"
	RoleInvalid Role = "invalid"
)

const (
	defaultConnectTimeoutSec = 10
	defaultConnectRetries    = 5
)

// ErrConfig is the sentinel a caller can errors.Is against for any
// configuration-shaped failure raised by Resolve: a missing or invalid
// node raises at create time with a typed config failure.
var ErrConfig = errors.New("overlay: invalid configuration")

type (
	NodeSpec struct {
		ID   string
		Name string
		Host string
		Port int
	}

	ConnectParams struct {
		TimeoutMs int
		Retries   int
	}

	// Topology is built once per Channel and is immutable thereafter.
	Topology struct {
		CurrentNode NodeSpec
		Role        Role

		ClientInfos []NodeSpec // peers that dial us; we accept and listen
		ServerInfos []NodeSpec // peers we dial

		DataNodeIDs        []string
		ComputationNodeIDs map[string]int // id -> party index
		ResultNodeIDs      []string

		Connect ConnectParams

		nodesByID map[string]NodeSpec
	}

	rawConfig struct {
		NodeInfo []struct {
			NodeID string `json:"NODE_ID"`
			Name   string `json:"NAME"`
			Host   string `json:"HOST"`
			Port   int    `json:"PORT"`
		} `json:"NODE_INFO"`
		DataNodes         []string       `json:"DATA_NODES"`
		ComputationNodes  map[string]int `json:"COMPUTATION_NODES"`
		ResultNodes       []string       `json:"RESULT_NODES"`
		ConnectParamsJSON *struct {
			Timeout int `json:"TIMEOUT"`
			Retries int `json:"RETRIES"`
		} `json:"CONNECT_PARAMS"`
	}
)

// Resolve parses configJSON and builds the Topology for nodeID.
func Resolve(nodeID string, configJSON []byte) (*Topology, error) {
	var raw rawConfig
	if err := jsoniter.Unmarshal(configJSON, &raw); err != nil {
		return nil, errors.Wrap(ErrConfig, err.Error())
	}
	if len(raw.NodeInfo) == 0 {
		return nil, errors.Wrap(ErrConfig, "missing NODE_INFO")
	}

	nodesByID := make(map[string]NodeSpec, len(raw.NodeInfo))
	for _, n := range raw.NodeInfo {
		nodesByID[n.NodeID] = NodeSpec{ID: n.NodeID, Name: n.Name, Host: n.Host, Port: n.Port}
	}
	current, ok := nodesByID[nodeID]
	if !ok {
		return nil, errors.Wrapf(ErrConfig, "current node %q not present in NODE_INFO", nodeID)
	}

	dataSet := toSet(raw.DataNodes)
	computeMap := raw.ComputationNodes
	if computeMap == nil {
		computeMap = map[string]int{}
	}
	resultSet := toSet(raw.ResultNodes)

	pureData := subtractKeys(dataSet, computeMap)
	pureResult := subtractKeys(subtractSet(resultSet, dataSet), computeMap)

	role := RoleInvalid
	switch {
	case pureData[nodeID]:
		role = RoleData
	case hasKey(computeMap, nodeID):
		role = RoleCompute
	case pureResult[nodeID]:
		role = RoleResult
	}
	if role == RoleInvalid {
		nlog.Warningf("overlay: node %q resolved to invalid role", nodeID)
	}

	eligible := eligiblePeers(role, nodeID, dataSet, computeMap, resultSet)

	connect := ConnectParams{TimeoutMs: defaultConnectTimeoutSec * 1000, Retries: defaultConnectRetries}
	if raw.ConnectParamsJSON != nil {
		if raw.ConnectParamsJSON.Timeout > 0 {
			connect.TimeoutMs = raw.ConnectParamsJSON.Timeout * 1000
		}
		if raw.ConnectParamsJSON.Retries >= 1 {
			connect.Retries = raw.ConnectParamsJSON.Retries
		}
	}

	topo := &Topology{
		CurrentNode:        current,
		Role:               role,
		DataNodeIDs:        sortedKeys(dataSet),
		ComputationNodeIDs: computeMap,
		ResultNodeIDs:      sortedKeys(resultSet),
		Connect:            connect,
		nodesByID:          nodesByID,
	}

	for _, peerID := range sortedKeys(eligible) {
		peer, ok := nodesByID[peerID]
		if !ok || peerID == nodeID {
			continue
		}
		if dials(current, peer) {
			topo.ServerInfos = append(topo.ServerInfos, peer)
		} else {
			topo.ClientInfos = append(topo.ClientInfos, peer)
		}
	}
	return topo, nil
}

// dials reports whether A (current) dials B (peer): B becomes a
// serverInfo of A iff A.Port<=0 or (B.Port>0 and A.ID < B.ID)
// lexicographically. This guarantees exactly one dialer per pair.
func dials(a, b NodeSpec) bool {
	if a.Port <= 0 {
		return true
	}
	return b.Port > 0 && a.ID < b.ID
}

func eligiblePeers(role Role, self string, dataSet map[string]bool, computeMap map[string]int, resultSet map[string]bool) map[string]bool {
	out := map[string]bool{}
	switch role {
	case RoleData:
		for id := range computeMap {
			out[id] = true
		}
	case RoleCompute:
		for id := range dataSet {
			out[id] = true
		}
		for id := range computeMap {
			if id != self {
				out[id] = true
			}
		}
		for id := range resultSet {
			out[id] = true
		}
	case RoleResult:
		for id := range computeMap {
			out[id] = true
		}
	}
	delete(out, self)
	return out
}

// GetConnectedNodeIDs is the union of ClientInfos and ServerInfos ids,
// confirmed against the original's check_config_json.cpp which feeds
// GetConnectedNodeIDs() directly into Send/Recv targets.
func (t *Topology) GetConnectedNodeIDs() []string {
	out := make([]string, 0, len(t.ClientInfos)+len(t.ServerInfos))
	for _, n := range t.ClientInfos {
		out = append(out, n.ID)
	}
	for _, n := range t.ServerInfos {
		out = append(out, n.ID)
	}
	sort.Strings(out)
	return out
}

func (t *Topology) NodeByID(id string) (NodeSpec, bool) {
	n, ok := t.nodesByID[id]
	return n, ok
}

func toSet(ids []string) map[string]bool {
	out := make(map[string]bool, len(ids))
	for _, id := range ids {
		out[id] = true
	}
	return out
}

func subtractKeys(set map[string]bool, keys map[string]int) map[string]bool {
	out := make(map[string]bool, len(set))
	for id := range set {
		if !hasKey(keys, id) {
			out[id] = true
		}
	}
	return out
}

func subtractSet(a, b map[string]bool) map[string]bool {
	out := make(map[string]bool, len(a))
	for id := range a {
		if !b[id] {
			out[id] = true
		}
	}
	return out
}

func hasKey(m map[string]int, id string) bool { _, ok := m[id]; return ok }

func sortedKeys(set map[string]bool) []string {
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
