package commands

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRoomInput(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"sunny-otter-harbor", "sunny-otter-harbor"},
		{"  sunny-otter-harbor ", "sunny-otter-harbor"},
		{"https://meshcall.qzz.io/r/sunny-otter-harbor", "sunny-otter-harbor"},
		{"https://meshcall.qzz.io/r/sunny-otter-harbor/", "sunny-otter-harbor"},
		{"meshcall.qzz.io/r/calm-lynx-grove", "calm-lynx-grove"},
		{"http://localhost:8080/app/r/team%20sync", "team sync"},
	}
	for _, tc := range cases {
		got, err := parseRoomInput(tc.in)
		require.NoError(t, err, tc.in)
		assert.Equal(t, tc.want, got, tc.in)
	}
}

func TestParseRoomInputRejects(t *testing.T) {
	for _, in := range []string{"", "   ", "https://meshcall.qzz.io/", "https://meshcall.qzz.io/r/"} {
		_, err := parseRoomInput(in)
		assert.Error(t, err, "%q", in)
	}
}

func TestDisplayName(t *testing.T) {
	t.Setenv("MESHCALL_NAME", "")
	t.Setenv("USER", "ada")
	assert.Equal(t, "Bo", displayName(" Bo "))
	assert.Equal(t, "ada", displayName(""))

	t.Setenv("MESHCALL_NAME", "Ada L")
	assert.Equal(t, "Ada L", displayName(""))
}

func TestCommandsRegistered(t *testing.T) {
	for _, name := range []string{"join", "new", "version"} {
		cmd, _, err := rootCmd.Find([]string{name})
		require.NoError(t, err)
		assert.Equal(t, name, cmd.Name())
	}
	f := joinCmd.Flags()
	for _, flag := range []string{"name", "relay", "stun", "turn", "turn-user", "turn-pass", "force-relay", "captions", "transcript"} {
		assert.NotNil(t, f.Lookup(flag), flag)
	}
}
