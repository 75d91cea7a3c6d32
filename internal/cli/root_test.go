package cli

import (
	"bytes"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func findCommand(t *testing.T, path ...string) *cobra.Command {
	t.Helper()
	sub, _, err := NewRootCommand().Find(path)
	require.NoError(t, err, "command %v", path)
	return sub
}

func TestCommandTree(t *testing.T) {
	tests := []struct {
		path  []string
		group string
	}{
		{[]string{"serve"}, groupProcesses},
		{[]string{"worker"}, groupProcesses},
		{[]string{"verify"}, groupOperations},
		{[]string{"rails", "list"}, ""},
		{[]string{"rails", "import"}, ""},
		{[]string{"rails", "enable"}, ""},
		{[]string{"rails", "disable"}, ""},
		{[]string{"prices", "set"}, ""},
		{[]string{"purchases", "show"}, ""},
		{[]string{"purchases", "pending"}, ""},
	}

	for _, tt := range tests {
		name := tt.path[len(tt.path)-1]
		t.Run(name, func(t *testing.T) {
			sub := findCommand(t, tt.path...)
			assert.Equal(t, name, sub.Name())
			if tt.group != "" {
				assert.Equal(t, tt.group, sub.GroupID)
			}
		})
	}
}

func TestPersistentFlags(t *testing.T) {
	flags := NewRootCommand().PersistentFlags()

	verbose := flags.Lookup("verbose")
	require.NotNil(t, verbose)
	assert.Equal(t, "v", verbose.Shorthand)

	format := flags.Lookup("format")
	require.NotNil(t, format)
	assert.Equal(t, "text", format.DefValue)

	config := flags.Lookup("config")
	require.NotNil(t, config)
	assert.Empty(t, config.DefValue)
}

func TestCommandFlags(t *testing.T) {
	tests := []struct {
		path  []string
		flags map[string]string // name -> default
	}{
		{[]string{"serve"}, map[string]string{"with-worker": "false", "addr": ""}},
		{[]string{"worker"}, map[string]string{"once": "false"}},
		{[]string{"purchases", "pending"}, map[string]string{"limit": "50"}},
		{[]string{"rails", "disable"}, map[string]string{"chain-id": "0"}},
		{[]string{"verify"}, map[string]string{
			"rail": "", "listing": "", "tx": "", "buyer": "",
			"chain-id": "0", "memo": "", "destination-tag": "0",
		}},
	}

	for _, tt := range tests {
		sub := findCommand(t, tt.path...)
		for name, def := range tt.flags {
			f := sub.Flags().Lookup(name)
			if assert.NotNil(t, f, "%v --%s", tt.path, name) {
				assert.Equal(t, def, f.DefValue, "%v --%s", tt.path, name)
			}
		}
	}
}

func TestVerifyRequiresClaimFlags(t *testing.T) {
	cmd := NewRootCommand()
	cmd.SetArgs([]string{"verify", "--rail", "eth"})
	cmd.SetOut(&bytes.Buffer{})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "required flag")
}

func TestInvalidFormatIsCommandError(t *testing.T) {
	for _, format := range []string{"xml", "", "TEXT"} {
		t.Run(format, func(t *testing.T) {
			cmd := NewRootCommand()
			cmd.SetArgs([]string{"--format", format, "purchases", "pending"})

			err := cmd.Execute()
			require.Error(t, err)
			assert.Contains(t, err.Error(), "invalid format")
			assert.Equal(t, ExitCommandError, GetExitCode(err))
		})
	}
}
