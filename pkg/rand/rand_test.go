package rand

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSubdomain(t *testing.T) {
	name := Subdomain("agent")

	assert.True(t, strings.HasPrefix(name, "agent-"))
	assert.Len(t, name, len("agent-")+subdomainSuffixLength)

	for _, ch := range name[len("agent-"):] {
		assert.Contains(t, smallLetters, string(ch))
	}
}

func TestSubdomainProducesFreshCandidates(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 50; i++ {
		name := Subdomain("agent")
		assert.False(t, seen[name], "generated the same name twice: %s", name)
		seen[name] = true
	}
}

func TestSecret(t *testing.T) {
	secret := Secret(SecretLength)

	assert.Len(t, secret, SecretLength)
	for _, ch := range secret {
		assert.Contains(t, allLetters, string(ch))
	}

	assert.NotEqual(t, secret, Secret(SecretLength))
}
