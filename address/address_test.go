// SPDX-License-Identifier: GPL-3.0-or-later

package address_test

import (
	"testing"

	"github.com/netreactor/pump/address"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	ep, err := address.Parse("127.0.0.1:8080")
	require.NoError(t, err)
	assert.True(t, ep.IsValid())
	assert.Equal(t, address.FamilyIPv4, ep.Family())
	assert.Equal(t, uint16(8080), ep.Port())
	assert.Equal(t, "127.0.0.1:8080", ep.String())
}

func TestParseIPv6(t *testing.T) {
	ep, err := address.Parse("[::1]:53")
	require.NoError(t, err)
	assert.Equal(t, address.FamilyIPv6, ep.Family())
	assert.Equal(t, "[::1]:53", ep.String())
}

func TestParseInvalid(t *testing.T) {
	_, err := address.Parse("not-an-address")
	assert.Error(t, err)
}

func TestEqual(t *testing.T) {
	a, err := address.Parse("127.0.0.1:80")
	require.NoError(t, err)
	b, err := address.Parse("127.0.0.1:80")
	require.NoError(t, err)
	c, err := address.Parse("127.0.0.1:81")
	require.NoError(t, err)

	assert.True(t, a.Equal(b))
	assert.False(t, a.Equal(c))
}

func TestZeroValue(t *testing.T) {
	var ep address.Endpoint
	assert.False(t, ep.IsValid())
	assert.Equal(t, address.FamilyUnknown, ep.Family())
	assert.Equal(t, "", ep.String())
}

func TestTCPAddrRoundtrip(t *testing.T) {
	ep, err := address.Parse("192.0.2.1:9000")
	require.NoError(t, err)
	tcpAddr := ep.TCPAddr()
	roundtripped, err := address.FromTCPAddr(tcpAddr)
	require.NoError(t, err)
	assert.True(t, ep.Equal(roundtripped))
}
