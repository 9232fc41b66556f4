// Command iodemo is a thin end-to-end exercise of the public iochannel
// API: join the overlay described by a config file, send the raw config
// bytes to every connected peer, then receive what each peer sends in
// return and print its size. It takes the same two positional arguments as the original
// check_config_json example: a config file path and this node's id.
/*
 * Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
 */
package main

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"os"
	"time"

	"github.com/LatticeX-Foundation/rosetta-io-go/cmn/cos"
	"github.com/LatticeX-Foundation/rosetta-io-go/cmn/nlog"
	"github.com/LatticeX-Foundation/rosetta-io-go/iochannel"
)

const (
	demoTaskID     = "iodemo"
	demoDataName   = "config_str"
	demoRecvWindow = 30 * time.Second
)

func main() {
	if len(os.Args) != 3 {
		cos.Exitf("usage: %s <config-file> <node-id>", os.Args[0])
	}
	configPath, nodeID := os.Args[1], os.Args[2]

	configJSON, err := os.ReadFile(configPath)
	if err != nil {
		cos.Exitf("open file %s: %v", configPath, err)
	}
	fmt.Printf("config:%s", configJSON)

	ch, err := iochannel.Create(demoTaskID, nodeID, configJSON, nil)
	if err != nil {
		cos.Exitf("create channel: %v", err)
	}
	defer func() {
		if err := iochannel.Destroy(ch); err != nil {
			nlog.Warningf("iodemo: destroy: %v", err)
		}
	}()

	peers := ch.GetConnectedNodeIDs()
	dataID := hex.EncodeToString([]byte(demoDataName))

	for _, peer := range peers {
		var sizeBuf [4]byte
		binary.LittleEndian.PutUint32(sizeBuf[:], uint32(len(configJSON)))
		if _, err := ch.Send(peer, dataID, sizeBuf[:], 0); err != nil {
			nlog.Errorf("iodemo: send size to %s: %v", peer, err)
			continue
		}
		if _, err := ch.Send(peer, dataID, configJSON, 0); err != nil {
			nlog.Errorf("iodemo: send payload to %s: %v", peer, err)
			continue
		}
		fmt.Printf("send data to %s\n", peer)
	}

	for _, peer := range peers {
		var sizeBuf [4]byte
		if _, err := ch.Recv(peer, dataID, sizeBuf[:], len(sizeBuf), demoRecvWindow); err != nil {
			nlog.Errorf("iodemo: recv size from %s: %v", peer, err)
			continue
		}
		size := binary.LittleEndian.Uint32(sizeBuf[:])
		data := make([]byte, size)
		if _, err := ch.Recv(peer, dataID, data, int(size), demoRecvWindow); err != nil {
			nlog.Errorf("iodemo: recv payload from %s: %v", peer, err)
			continue
		}
		fmt.Printf("recv data from %s, size:%d\n", peer, size)
	}
}
