package main

import (
	"testing"
	"time"

	"github.com/fako1024/cgmbridge/pkg/config"
	"github.com/fako1024/cgmbridge/pkg/glucose"
	"github.com/fako1024/cgmbridge/pkg/heartbeat"
	"github.com/fako1024/cgmbridge/pkg/mock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMockPlatformPerIdentity(t *testing.T) {
	provider := newPlatformProvider(config.HeartbeatConfig{Adapter: config.AdapterMock, MockInterval: time.Hour}, glucose.NullLogger{})
	defer provider.Close()

	idAA := heartbeat.Identity{Address: "AA", ServiceUUID: "febc", ReceiveCharacteristic: "f808"}
	idBB := heartbeat.Identity{Address: "BB", ServiceUUID: "febc", ReceiveCharacteristic: "f808"}

	pAA, err := provider.get(idAA)
	require.Nil(t, err)
	pBB, err := provider.get(idBB)
	require.Nil(t, err)
	assert.NotSame(t, pAA, pBB)

	// Each mock platform simulates the transmitter it was built for
	_, ok := pBB.(*mock.Platform).RetrievePeripheral("BB")
	assert.False(t, ok)
	require.Nil(t, pBB.Scan())
	assert.Equal(t, 1, pBB.(*mock.Platform).CallCount(mock.OpScan))
}

func TestUnsupportedAdapter(t *testing.T) {
	provider := newPlatformProvider(config.HeartbeatConfig{Adapter: "bluez"}, glucose.NullLogger{})
	defer provider.Close()

	_, err := provider.get(heartbeat.Identity{Address: "AA", ServiceUUID: "febc", ReceiveCharacteristic: "f808"})
	assert.Error(t, err)
}
