package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExpandURLsLeavesPlainURLUntouched(t *testing.T) {
	out, dropped := expandURLs([]string{"http://127.0.0.1:8545"})
	assert.Equal(t, []string{"http://127.0.0.1:8545"}, out)
	assert.Zero(t, dropped)
}

func TestExpandURLsResolvesSetVar(t *testing.T) {
	t.Setenv("TESTORCH_TPL_HOST", "rpc.example.com")
	out, dropped := expandURLs([]string{"https://${TESTORCH_TPL_HOST}/v1"})
	assert.Equal(t, []string{"https://rpc.example.com/v1"}, out)
	assert.Zero(t, dropped)
}

func TestExpandURLsDropsUnresolved(t *testing.T) {
	out, dropped := expandURLs([]string{"https://${TESTORCH_TPL_MISSING_VAR}/v1", "http://ok"})
	assert.Equal(t, []string{"http://ok"}, out)
	assert.Equal(t, 1, dropped)
}

func TestExpandURLsResolvesMultiplePlaceholdersInOneURL(t *testing.T) {
	t.Setenv("TESTORCH_TPL_SCHEME", "https")
	t.Setenv("TESTORCH_TPL_HOST2", "rpc2.example.com")
	out, _ := expandURLs([]string{"${TESTORCH_TPL_SCHEME}://${TESTORCH_TPL_HOST2}/v1"})
	assert.Equal(t, []string{"https://rpc2.example.com/v1"}, out)
}
