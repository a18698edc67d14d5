package wire

import "testing"

func intp(v int) *int { return &v }

func TestShellMessageRoundTrips(t *testing.T) {
	testCases := []struct {
		name   string
		encode func() ([]byte, error)
		check  func(t *testing.T, msg *ShellMessage)
	}{
		{
			"spawn with args",
			func() ([]byte, error) { return EncodeSpawn(42, "/bin/sh", []string{"-c", "echo hi"}) },
			func(t *testing.T, msg *ShellMessage) {
				if msg.Op != OpSpawn || msg.Channel != 42 || msg.Path != "/bin/sh" {
					t.Fatalf("spawn fields: %+v", msg)
				}
				if len(msg.Args) != 2 || msg.Args[0] != "-c" || msg.Args[1] != "echo hi" {
					t.Fatalf("spawn args: %v", msg.Args)
				}
			},
		},
		{
			"pid",
			func() ([]byte, error) { return EncodePid(42, 12345) },
			func(t *testing.T, msg *ShellMessage) {
				if msg.Op != OpPid || msg.Pid != 12345 {
					t.Fatalf("pid fields: %+v", msg)
				}
			},
		},
		{
			"stdin with data",
			func() ([]byte, error) { return EncodeStdin(42, "echo hi\n", false) },
			func(t *testing.T, msg *ShellMessage) {
				if msg.Op != OpStdin || !msg.HasData || msg.Data != "echo hi\n" {
					t.Fatalf("stdin fields: %+v", msg)
				}
			},
		},
		{
			"stdin EOF",
			func() ([]byte, error) { return EncodeStdin(42, "", true) },
			func(t *testing.T, msg *ShellMessage) {
				if msg.Op != OpStdin || msg.HasData {
					t.Fatalf("EOF should carry no payload: %+v", msg)
				}
			},
		},
		{
			"stdout",
			func() ([]byte, error) { return EncodeStdout(42, "hi\n", false) },
			func(t *testing.T, msg *ShellMessage) {
				if msg.Op != OpStdout || msg.Data != "hi\n" {
					t.Fatalf("stdout fields: %+v", msg)
				}
			},
		},
		{
			"stderr EOF",
			func() ([]byte, error) { return EncodeStderr(42, "", true) },
			func(t *testing.T, msg *ShellMessage) {
				if msg.Op != OpStderr || msg.HasData {
					t.Fatalf("stderr EOF fields: %+v", msg)
				}
			},
		},
		{
			"exit with signal",
			func() ([]byte, error) { return EncodeExit(42, 0, intp(9)) },
			func(t *testing.T, msg *ShellMessage) {
				if msg.Op != OpExit || !msg.HasSignal || msg.ExitSignal != 9 {
					t.Fatalf("exit fields: %+v", msg)
				}
			},
		},
		{
			"exit clean",
			func() ([]byte, error) { return EncodeExit(42, 1, nil) },
			func(t *testing.T, msg *ShellMessage) {
				if msg.Op != OpExit || msg.HasSignal || msg.ExitCode != 1 {
					t.Fatalf("exit fields: %+v", msg)
				}
			},
		},
		{
			"kill default",
			func() ([]byte, error) { return EncodeKill(42, nil) },
			func(t *testing.T, msg *ShellMessage) {
				if msg.Op != OpKill || msg.HasKill {
					t.Fatalf("kill fields: %+v", msg)
				}
			},
		},
		{
			"kill with signal",
			func() ([]byte, error) { return EncodeKill(42, intp(15)) },
			func(t *testing.T, msg *ShellMessage) {
				if msg.Op != OpKill || !msg.HasKill || msg.Signal != 15 {
					t.Fatalf("kill fields: %+v", msg)
				}
			},
		},
		{
			"list request",
			func() ([]byte, error) { return EncodeListRequest() },
			func(t *testing.T, msg *ShellMessage) {
				if msg.Op != OpList || len(msg.Entries) != 0 {
					t.Fatalf("list request fields: %+v", msg)
				}
			},
		},
		{
			"list response",
			func() ([]byte, error) {
				return EncodeListResponse([]ListEntry{{Channel: 7, Path: "/bin/sh", Pid: 99}})
			},
			func(t *testing.T, msg *ShellMessage) {
				if msg.Op != OpList || len(msg.Entries) != 1 {
					t.Fatalf("list response fields: %+v", msg)
				}
				e := msg.Entries[0]
				if e.Channel != 7 || e.Path != "/bin/sh" || e.Pid != 99 {
					t.Fatalf("list entry: %+v", e)
				}
			},
		},
		{
			"error",
			func() ([]byte, error) { return EncodeError(42, "No session found on channel 42") },
			func(t *testing.T, msg *ShellMessage) {
				if msg.Op != OpError || msg.Message != "No session found on channel 42" {
					t.Fatalf("error fields: %+v", msg)
				}
			},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			data, err := tc.encode()
			if err != nil {
				t.Fatalf("encode: %v", err)
			}
			msg, err := DecodeShellMessage(data)
			if err != nil {
				t.Fatalf("decode: %v", err)
			}
			tc.check(t, msg)
		})
	}
}

func TestDecodeShellMessageRejectsGarbage(t *testing.T) {
	if _, err := DecodeShellMessage([]byte{0xff}); err == nil {
		t.Fatalf("expected error for non-CBOR input")
	}
	short, err := Marshal([]interface{}{uint32(42)})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if _, err := DecodeShellMessage(short); err == nil {
		t.Fatalf("expected error for message with no op")
	}
	unknown, err := Marshal([]interface{}{uint32(42), "reboot"})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if _, err := DecodeShellMessage(unknown); err == nil {
		t.Fatalf("expected error for unknown op")
	}
}
