package netinfo

import (
	"bytes"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestComputeAdvertisedPrefersConfig(t *testing.T) {
	t.Setenv("HUDDLE_PUBLIC_HOST", "env.example.com")

	adv := ComputeAdvertised("https://chat.example.com/", "0.0.0.0", 8080)
	assert.Equal(t, "chat.example.com", adv.Host)
	assert.Equal(t, "config", adv.Source)

	adv = ComputeAdvertised("", "0.0.0.0", 8080)
	assert.Equal(t, "env.example.com", adv.Host)
	assert.Equal(t, "env", adv.Source)
}

func TestComputeAdvertisedUsesConcreteBind(t *testing.T) {
	t.Setenv("HUDDLE_PUBLIC_HOST", "")

	adv := ComputeAdvertised("", "10.1.2.3", 9000)
	assert.Equal(t, "10.1.2.3", adv.Host)
	assert.Equal(t, "bind", adv.Source)
	assert.Equal(t, 9000, adv.Port)
}

func TestIsPrivateIPv4(t *testing.T) {
	assert.True(t, isPrivateIPv4(net.ParseIP("10.0.0.1")))
	assert.True(t, isPrivateIPv4(net.ParseIP("172.20.1.1")))
	assert.True(t, isPrivateIPv4(net.ParseIP("192.168.1.5")))
	assert.False(t, isPrivateIPv4(net.ParseIP("172.32.0.1")))
	assert.False(t, isPrivateIPv4(net.ParseIP("8.8.8.8")))
	assert.False(t, isPrivateIPv4(net.ParseIP("::1")))
}

func TestPrintAccessBanner(t *testing.T) {
	var buf bytes.Buffer
	PrintAccessBanner(&buf, Advertised{Host: "h", Port: 1, Source: "bind", Notes: []string{"n"}}, "huddle")

	out := buf.String()
	assert.Contains(t, out, "http://h:1/v1")
	assert.Contains(t, out, "ws://h:1/v1/stream")
	assert.Contains(t, out, "Note: n")
}
