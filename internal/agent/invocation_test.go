package agent

import (
	"reflect"
	"testing"
)

func TestInvocation_Args(t *testing.T) {
	tests := []struct {
		name string
		inv  Invocation
		want []string
	}{
		{
			name: "fresh session",
			inv:  Invocation{Model: "sonnet", PermissionMode: "bypassPermissions", SessionID: "s1", Payload: "work"},
			want: []string{"--model", "sonnet", "--permission-mode", "bypassPermissions",
				"--output-format", "stream-json", "--verbose", "--session-id", "s1", "--print", "-p", "work"},
		},
		{
			name: "resume with extra args",
			inv:  Invocation{SessionID: "s1", Resume: true, ExtraArgs: []string{"--max-turns", "40"}, Payload: "again"},
			want: []string{"--output-format", "stream-json", "--verbose", "--resume", "s1",
				"--max-turns", "40", "--print", "-p", "again"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.inv.Args(); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Args() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestInvocation_Validate(t *testing.T) {
	if err := (Invocation{}).Validate(); err == nil {
		t.Error("empty payload should be rejected")
	}
	if err := (Invocation{Payload: "x", Resume: true}).Validate(); err == nil {
		t.Error("resume without session should be rejected")
	}
	if got := (Invocation{}).Executable(); got != DefaultCommand {
		t.Errorf("Executable() = %q, want %q", got, DefaultCommand)
	}
}
