package ioserver_test

import (
	"encoding/binary"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/LatticeX-Foundation/rosetta-io-go/iocfg"
	"github.com/LatticeX-Foundation/rosetta-io-go/ioserver"
)

func dialAndIdentify(t *testing.T, addr net.Addr, clientID string) net.Conn {
	t.Helper()
	c, err := net.DialTimeout("tcp", addr.String(), time.Second)
	require.NoError(t, err)
	ack := make([]byte, 1)
	_, err = io.ReadFull(c, ack)
	require.NoError(t, err)
	require.Equal(t, byte('1'), ack[0])

	idBytes := []byte(clientID)
	hdr := make([]byte, 8)
	binary.LittleEndian.PutUint64(hdr, uint64(8+len(idBytes)))
	_, err = c.Write(append(hdr, idBytes...))
	require.NoError(t, err)
	return c
}

func TestAcceptPublishesConnection(t *testing.T) {
	s := ioserver.New("P1", iocfg.Default(), nil, nil)
	require.NoError(t, s.Listen("127.0.0.1:0"))
	defer s.Close()

	raw := dialAndIdentify(t, s.Addr(), "P2")
	defer raw.Close()

	require.Eventually(t, func() bool {
		_, ok := s.Get("P2")
		return ok
	}, time.Second, 10*time.Millisecond)
}

func TestWaitForPeersSucceeds(t *testing.T) {
	s := ioserver.New("P1", iocfg.Default(), nil, nil)
	require.NoError(t, s.Listen("127.0.0.1:0"))
	defer s.Close()

	raw1 := dialAndIdentify(t, s.Addr(), "P2")
	defer raw1.Close()
	raw2 := dialAndIdentify(t, s.Addr(), "P3")
	defer raw2.Close()

	peers, err := s.WaitForPeers([]string{"P2", "P3"}, time.Second)
	require.NoError(t, err)
	require.Len(t, peers, 2)
}

func TestWaitForPeersTimesOut(t *testing.T) {
	s := ioserver.New("P1", iocfg.Default(), nil, nil)
	require.NoError(t, s.Listen("127.0.0.1:0"))
	defer s.Close()

	_, err := s.WaitForPeers([]string{"ghost"}, 100*time.Millisecond)
	require.ErrorIs(t, err, ioserver.ErrWaitTimeout)
}

func TestRejectsUnexpectedClientID(t *testing.T) {
	s := ioserver.New("P1", iocfg.Default(), nil, nil)
	require.NoError(t, s.Listen("127.0.0.1:0"))
	defer s.Close()
	s.RegisterExpected([]string{"allowed"})

	raw := dialAndIdentify(t, s.Addr(), "not-allowed")
	defer raw.Close()

	buf := make([]byte, 1)
	raw.SetReadDeadline(time.Now().Add(time.Second))
	_, err := raw.Read(buf)
	require.Error(t, err, "server should close the socket for an unexpected client id")

	_, ok := s.Get("not-allowed")
	require.False(t, ok)
}

func TestListenIsIdempotent(t *testing.T) {
	s := ioserver.New("P1", iocfg.Default(), nil, nil)
	require.NoError(t, s.Listen("127.0.0.1:0"))
	addr1 := s.Addr()
	require.NoError(t, s.Listen("127.0.0.1:0"))
	require.Equal(t, addr1, s.Addr())
	s.Close()
}
