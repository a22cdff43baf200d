package cli

import (
	"bytes"
	"errors"
	"testing"

	"github.com/vvka-141/crdb/pkg/crdb"
)

func TestExecCmd_ArgsValidation_TooMany(t *testing.T) {
	err := execCmd.Args(execCmd, []string{"SELECT 1", "SELECT 2"})
	if err == nil {
		t.Fatal("Expected error for too many args")
	}
	if code := crdb.ExitCodeForError(err); code != crdb.ExitUsageError {
		t.Errorf("Expected exit code %d (usage), got %d for: %v", crdb.ExitUsageError, code, err)
	}
}

func TestPingCmd_RejectsArgs(t *testing.T) {
	err := pingCmd.Args(pingCmd, []string{"extra"})
	if err == nil {
		t.Fatal("Expected error for positional args")
	}
	if code := crdb.ExitCodeForError(err); code != crdb.ExitUsageError {
		t.Errorf("Expected exit code %d (usage), got %d for: %v", crdb.ExitUsageError, code, err)
	}
}

func TestRootCmd_Subcommands(t *testing.T) {
	want := map[string]bool{"ping": false, "exec": false, "version": false}
	for _, c := range rootCmd.Commands() {
		if _, ok := want[c.Name()]; ok {
			want[c.Name()] = true
		}
	}
	for name, found := range want {
		if !found {
			t.Errorf("subcommand %q not registered", name)
		}
	}
}

func TestConnectionFlags_Registered(t *testing.T) {
	for _, cmd := range []string{"ping", "exec"} {
		c, _, err := rootCmd.Find([]string{cmd})
		if err != nil {
			t.Fatalf("find %s: %v", cmd, err)
		}
		for _, name := range []string{"connection", "host", "port", "username", "database",
			"sslmode", "sslrootcert", "sslcert", "sslkey", "native", "config", "env-file", "timeout"} {
			if c.Flags().Lookup(name) == nil {
				t.Errorf("%s: flag --%s not registered", cmd, name)
			}
		}
	}
	if execCmd.Flags().Lookup("limit").DefValue != "11" {
		t.Errorf("--limit default = %s, want 11", execCmd.Flags().Lookup("limit").DefValue)
	}
}

func TestExecCmd_ConflictingSources(t *testing.T) {
	execFlags = execFlagValues{file: "script.sql"}
	defer func() { execFlags = execFlagValues{} }()

	err := runExec(execCmd, []string{"SELECT 1"})
	if !errors.Is(err, crdb.ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
	if code := crdb.ExitCodeForError(err); code != crdb.ExitConfigError {
		t.Errorf("expected config exit code, got %d", code)
	}
}

func TestExecCmd_ConnectionAndGranularFlags(t *testing.T) {
	execFlags = execFlagValues{connectionFlags: connectionFlags{
		connection: "postgresql://root@localhost:26257/defaultdb",
		host:       "other",
		configDir:  t.TempDir(),
		envFiles:   nil,
	}}
	defer func() { execFlags = execFlagValues{} }()

	err := runExec(execCmd, []string{"SELECT 1"})
	if err == nil {
		t.Fatal("expected conflict between --connection and --host")
	}
}

func TestVersionCmd_Runs(t *testing.T) {
	var out bytes.Buffer
	versionCmd.SetOut(&out)
	versionCmd.Run(versionCmd, nil)
}
