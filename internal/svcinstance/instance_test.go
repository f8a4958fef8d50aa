package svcinstance_test

import (
	"testing"

	"github.com/nodefabric/basenode/internal/svcinstance"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSerializeParseRoundTrip(t *testing.T) {
	inst := svcinstance.Instance{
		ServiceName: "echo.Module.Ping",
		ModuleName:  "echo.Module",
		InstanceID:  "echo.Module-echo.Module.Ping",
		Host:        "10.0.0.1",
		Port:        9527,
		Healthy:     true,
		Metadata:    map[string]string{"zone": "us-east", "weight": "3"},
	}
	s := svcinstance.Serialize(inst)
	got, err := svcinstance.Parse(s)
	require.NoError(t, err)
	assert.Equal(t, inst, got)
}

func TestSerializeFormatIsBitExact(t *testing.T) {
	inst := svcinstance.Instance{
		ServiceName: "echo.Module.Ping",
		ModuleName:  "echo.Module",
		InstanceID:  "i1",
		Host:        "127.0.0.1",
		Port:        9100,
		Healthy:     false,
	}
	want := "127.0.0.1:9100;module_name:echo.Module;service_name:echo.Module.Ping;instance_id:i1;healthy:false"
	assert.Equal(t, want, svcinstance.Serialize(inst))
}

func TestSerializeSortsMetadataKeys(t *testing.T) {
	inst := svcinstance.Instance{
		Host: "h", Port: 1,
		Metadata: map[string]string{"b": "2", "a": "1"},
	}
	s := svcinstance.Serialize(inst)
	assert.Contains(t, s, "a=1;b=2")
}

func TestParseRejectsMissingHostPort(t *testing.T) {
	_, err := svcinstance.Parse("not-a-host-port")
	assert.Error(t, err)
}

func TestParseRejectsMalformedField(t *testing.T) {
	_, err := svcinstance.Parse("h:1;garbage")
	assert.Error(t, err)
}

func TestHostPort(t *testing.T) {
	inst := svcinstance.Instance{Host: "h", Port: 42}
	assert.Equal(t, "h:42", inst.HostPort())
}

func TestPlaceholderIsUnhealthy(t *testing.T) {
	p := svcinstance.Placeholder("echo.Module.Ping")
	assert.False(t, p.Healthy)
	assert.Equal(t, "echo.Module.Ping", p.ServiceName)
}
