package discovery

import (
	"errors"
	"testing"

	"github.com/grandcat/zeroconf"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInstanceName(t *testing.T) {
	assert.Equal(t, "desk (Clawdbot)", InstanceName("desk", "ignored"))
	assert.Equal(t, "Studio (Clawdbot)", InstanceName("", "Studio"))
	assert.Equal(t, "my clawdbot box", InstanceName("my clawdbot box", ""))
	assert.Contains(t, InstanceName("", ""), "(Clawdbot)")
}

func TestTXTRecords(t *testing.T) {
	txt := TXTRecords("Desk  (Clawdbot)", Info{NodeID: "n1", Platform: "linux", Port: 18791})

	assert.Contains(t, txt, "role=node")
	assert.Contains(t, txt, "displayName=Desk")
	assert.Contains(t, txt, "nodeId=n1")
	assert.Contains(t, txt, "transport=node")
	assert.Contains(t, txt, "platform=linux")
	assert.Contains(t, txt, "httpPort=18791")
	assert.NotContains(t, txt, "version=")
}

func TestAdvertiseDefaults(t *testing.T) {
	orig := register
	t.Cleanup(func() { register = orig })

	var gotService, gotDomain string
	var gotPort int
	register = func(name, service, domain string, port int, txt []string) (*zeroconf.Server, error) {
		gotService, gotDomain, gotPort = service, domain, port
		return nil, nil
	}

	ad, err := Advertise(Config{Enabled: true}, Info{NodeID: "n1", DisplayName: "Desk", Port: 4000})
	require.NoError(t, err)
	assert.Equal(t, "Desk (Clawdbot)", ad.Name)
	assert.Equal(t, DefaultService, gotService)
	assert.Equal(t, DefaultDomain, gotDomain)
	assert.Equal(t, 4000, gotPort)
	ad.Shutdown()
}

func TestAdvertiseError(t *testing.T) {
	orig := register
	t.Cleanup(func() { register = orig })
	register = func(string, string, string, int, []string) (*zeroconf.Server, error) {
		return nil, errors.New("no multicast")
	}

	_, err := Advertise(Config{}, Info{})
	assert.ErrorContains(t, err, "no multicast")
}
