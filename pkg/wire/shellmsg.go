package wire

import "fmt"

// ShellOp identifies the op string in a [C, op, ...] shell message (§4.D).
type ShellOp string

const (
	OpSpawn  ShellOp = "spawn"
	OpPid    ShellOp = "pid"
	OpStdin  ShellOp = "stdin"
	OpStdout ShellOp = "stdout"
	OpStderr ShellOp = "stderr"
	OpExit   ShellOp = "exit"
	OpKill   ShellOp = "kill"
	OpList   ShellOp = "list"
	OpError  ShellOp = "error"
)

// ListEntry is one row of a list response: the command path and pid running
// on a given channel.
type ListEntry struct {
	Channel uint32
	Path    string
	Pid     int
}

// ShellMessage is the decoded form of any §4.D wire message.
type ShellMessage struct {
	Op      ShellOp
	Channel uint32

	Path string   // spawn command path
	Args []string // spawn optional args

	Pid int // pid op

	Data    string // stdin/stdout/stderr payload
	HasData bool   // false means EOF (absent string)

	ExitCode   int // exit op
	ExitSignal int
	HasSignal  bool

	Signal  int // kill op
	HasKill bool

	Entries []ListEntry // list response

	Message string // error op
}

// EncodeSpawn builds [C, "spawn", path, [args...]]; the args array is always
// present, empty when there are no args.
func EncodeSpawn(channel uint32, path string, args []string) ([]byte, error) {
	arr := []interface{}{channel, string(OpSpawn), path}
	argsArr := make([]interface{}, len(args))
	for i, a := range args {
		argsArr[i] = a
	}
	arr = append(arr, argsArr)
	return Marshal(arr)
}

// EncodePid builds [C, "pid", pid].
func EncodePid(channel uint32, pid int) ([]byte, error) {
	return Marshal([]interface{}{channel, string(OpPid), pid})
}

// EncodeStdin builds [C, "stdin", data?] (no third element means EOF).
func EncodeStdin(channel uint32, data string, eof bool) ([]byte, error) {
	return encodeStdioLike(channel, OpStdin, data, eof)
}

// EncodeStdout builds [C, "stdout", data?].
func EncodeStdout(channel uint32, data string, eof bool) ([]byte, error) {
	return encodeStdioLike(channel, OpStdout, data, eof)
}

// EncodeStderr builds [C, "stderr", data?].
func EncodeStderr(channel uint32, data string, eof bool) ([]byte, error) {
	return encodeStdioLike(channel, OpStderr, data, eof)
}

func encodeStdioLike(channel uint32, op ShellOp, data string, eof bool) ([]byte, error) {
	arr := []interface{}{channel, string(op)}
	if !eof {
		arr = append(arr, data)
	}
	return Marshal(arr)
}

// EncodeExit builds [C, "exit", code, signal?].
func EncodeExit(channel uint32, code int, signal *int) ([]byte, error) {
	arr := []interface{}{channel, string(OpExit), code}
	if signal != nil {
		arr = append(arr, *signal)
	}
	return Marshal(arr)
}

// EncodeKill builds [C, "kill", signal?].
func EncodeKill(channel uint32, signal *int) ([]byte, error) {
	arr := []interface{}{channel, string(OpKill)}
	if signal != nil {
		arr = append(arr, *signal)
	}
	return Marshal(arr)
}

// EncodeListRequest builds [0, "list"].
func EncodeListRequest() ([]byte, error) {
	return Marshal([]interface{}{uint32(0), string(OpList)})
}

// EncodeListResponse builds [0, "list", [[chan,path,pid], ...]].
func EncodeListResponse(entries []ListEntry) ([]byte, error) {
	rows := make([]interface{}, len(entries))
	for i, e := range entries {
		rows[i] = []interface{}{e.Channel, e.Path, e.Pid}
	}
	return Marshal([]interface{}{uint32(0), string(OpList), rows})
}

// EncodeError builds [C, "error", message].
func EncodeError(channel uint32, message string) ([]byte, error) {
	return Marshal([]interface{}{channel, string(OpError), message})
}

// DecodeShellMessage parses a raw datagram into a ShellMessage.
func DecodeShellMessage(data []byte) (*ShellMessage, error) {
	arr, err := DecodeArray(data)
	if err != nil {
		return nil, fmt.Errorf("wire: not a CBOR array: %w", err)
	}
	if len(arr) < 2 {
		return nil, fmt.Errorf("wire: shell message too short")
	}

	channel, ok := toUint32(arr[0])
	if !ok {
		return nil, fmt.Errorf("wire: shell message channel id is not an integer")
	}
	op, ok := arr[1].(string)
	if !ok {
		return nil, fmt.Errorf("wire: shell message op is not a string")
	}
	rest := arr[2:]

	switch ShellOp(op) {
	case OpSpawn:
		if len(rest) < 1 {
			return nil, fmt.Errorf("wire: spawn message missing path")
		}
		path, ok := rest[0].(string)
		if !ok {
			return nil, fmt.Errorf("wire: spawn path is not a string")
		}
		msg := &ShellMessage{Op: OpSpawn, Channel: channel, Path: path}
		if len(rest) > 1 {
			argsRaw, ok := rest[1].([]interface{})
			if !ok {
				return nil, fmt.Errorf("wire: spawn args is not an array")
			}
			args := make([]string, 0, len(argsRaw))
			for _, a := range argsRaw {
				s, ok := a.(string)
				if !ok {
					return nil, fmt.Errorf("wire: spawn arg is not a string")
				}
				args = append(args, s)
			}
			msg.Args = args
		}
		return msg, nil
	case OpPid:
		if len(rest) < 1 {
			return nil, fmt.Errorf("wire: pid message missing pid")
		}
		pid, ok := toUint32(rest[0])
		if !ok {
			return nil, fmt.Errorf("wire: pid is not an integer")
		}
		return &ShellMessage{Op: OpPid, Channel: channel, Pid: int(pid)}, nil
	case OpStdin, OpStdout, OpStderr:
		msg := &ShellMessage{Op: ShellOp(op), Channel: channel}
		if len(rest) > 0 {
			s, ok := rest[0].(string)
			if !ok {
				return nil, fmt.Errorf("wire: stdio payload is not a string")
			}
			msg.Data = s
			msg.HasData = true
		}
		return msg, nil
	case OpExit:
		if len(rest) < 1 {
			return nil, fmt.Errorf("wire: exit message missing code")
		}
		code, ok := toUint32(rest[0])
		if !ok {
			return nil, fmt.Errorf("wire: exit code is not an integer")
		}
		msg := &ShellMessage{Op: OpExit, Channel: channel, ExitCode: int(code)}
		if len(rest) > 1 {
			sig, ok := toUint32(rest[1])
			if !ok {
				return nil, fmt.Errorf("wire: exit signal is not an integer")
			}
			msg.ExitSignal = int(sig)
			msg.HasSignal = true
		}
		return msg, nil
	case OpKill:
		msg := &ShellMessage{Op: OpKill, Channel: channel}
		if len(rest) > 0 {
			sig, ok := toUint32(rest[0])
			if !ok {
				return nil, fmt.Errorf("wire: kill signal is not an integer")
			}
			msg.Signal = int(sig)
			msg.HasKill = true
		}
		return msg, nil
	case OpList:
		msg := &ShellMessage{Op: OpList, Channel: channel}
		if len(rest) > 0 {
			rows, ok := rest[0].([]interface{})
			if !ok {
				return nil, fmt.Errorf("wire: list entries is not an array")
			}
			entries := make([]ListEntry, 0, len(rows))
			for _, r := range rows {
				row, ok := r.([]interface{})
				if !ok || len(row) != 3 {
					return nil, fmt.Errorf("wire: list entry malformed")
				}
				ch, ok1 := toUint32(row[0])
				path, ok2 := row[1].(string)
				pid, ok3 := toUint32(row[2])
				if !ok1 || !ok2 || !ok3 {
					return nil, fmt.Errorf("wire: list entry field type mismatch")
				}
				entries = append(entries, ListEntry{Channel: ch, Path: path, Pid: int(pid)})
			}
			msg.Entries = entries
		}
		return msg, nil
	case OpError:
		if len(rest) < 1 {
			return nil, fmt.Errorf("wire: error message missing text")
		}
		text, ok := rest[0].(string)
		if !ok {
			return nil, fmt.Errorf("wire: error text is not a string")
		}
		return &ShellMessage{Op: OpError, Channel: channel, Message: text}, nil
	default:
		return nil, fmt.Errorf("wire: unknown shell op %q", op)
	}
}
