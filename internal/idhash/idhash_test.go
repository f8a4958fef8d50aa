package idhash_test

import (
	"testing"

	"github.com/nodefabric/basenode/internal/idhash"
	"github.com/stretchr/testify/assert"
)

func TestHashModuleIDIsStable(t *testing.T) {
	a := idhash.HashModuleID("echo.Module")
	b := idhash.HashModuleID("echo.Module")
	assert.Equal(t, a, b)
}

func TestHashServiceKeyDistinguishesNames(t *testing.T) {
	a := idhash.HashServiceKey("echo.Module.Ping")
	b := idhash.HashServiceKey("echo.Module.Pong")
	assert.NotEqual(t, a, b)
}

func TestClientIDRoundTripsModuleID(t *testing.T) {
	id := idhash.HashModuleID("echo.Module")
	cid := idhash.ClientIDOf(id)
	assert.Equal(t, id, idhash.ModuleIDOf(cid))
}
