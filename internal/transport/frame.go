package transport

import (
	"bytes"
	"fmt"
	"sort"
	"strings"
)

// STOMP 1.2 frame codec. One websocket message carries exactly one frame, so
// no stream resynchronization is needed; a lone LF is a heartbeat.

const (
	CommandConnect     = "CONNECT"
	CommandConnected   = "CONNECTED"
	CommandSend        = "SEND"
	CommandSubscribe   = "SUBSCRIBE"
	CommandUnsubscribe = "UNSUBSCRIBE"
	CommandDisconnect  = "DISCONNECT"
	CommandMessage     = "MESSAGE"
	CommandReceipt     = "RECEIPT"
	CommandError       = "ERROR"
)

// Frame is a decoded STOMP frame.
type Frame struct {
	Command string
	Headers map[string]string
	Body    []byte
}

func NewFrame(command string, headers map[string]string) Frame {
	if headers == nil {
		headers = map[string]string{}
	}
	return Frame{Command: command, Headers: headers}
}

// Heartbeat is the frame payload for a STOMP heartbeat.
func Heartbeat() []byte {
	return []byte{'\n'}
}

func IsHeartbeat(payload []byte) bool {
	trimmed := bytes.TrimRight(payload, "\r\n")
	return len(payload) > 0 && len(trimmed) == 0
}

// Encode serializes the frame. Header keys are sorted so encoding is
// deterministic.
func Encode(f Frame) []byte {
	var buf bytes.Buffer
	buf.WriteString(f.Command)
	buf.WriteByte('\n')

	keys := make([]string, 0, len(f.Headers))
	for k := range f.Headers {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		buf.WriteString(escapeHeader(k))
		buf.WriteByte(':')
		buf.WriteString(escapeHeader(f.Headers[k]))
		buf.WriteByte('\n')
	}
	buf.WriteByte('\n')
	buf.Write(f.Body)
	buf.WriteByte(0)

	return buf.Bytes()
}

// Decode parses a single frame payload. Heartbeats must be filtered out by
// the caller first.
func Decode(payload []byte) (Frame, error) {
	headerEnd := bytes.Index(payload, []byte("\n\n"))
	bodyStart := headerEnd + 2
	if crlfEnd := bytes.Index(payload, []byte("\r\n\r\n")); crlfEnd != -1 && (headerEnd == -1 || crlfEnd < headerEnd) {
		headerEnd = crlfEnd
		bodyStart = crlfEnd + 4
	}
	if headerEnd == -1 {
		return Frame{}, fmt.Errorf("frame has no header terminator (%d bytes)", len(payload))
	}
	body := bytes.TrimSuffix(payload[bodyStart:], []byte{0})

	lines := strings.Split(string(payload[:headerEnd]), "\n")
	command := strings.TrimRight(lines[0], "\r")
	if command == "" {
		return Frame{}, fmt.Errorf("frame has empty command")
	}

	headers := make(map[string]string, len(lines)-1)
	for _, line := range lines[1:] {
		line = strings.TrimRight(line, "\r")
		if line == "" {
			continue
		}
		sep := strings.IndexByte(line, ':')
		if sep < 1 {
			return Frame{}, fmt.Errorf("malformed header line: %q", line)
		}
		key := unescapeHeader(line[:sep])
		// Repeated headers: the first occurrence wins.
		if _, ok := headers[key]; ok {
			continue
		}
		headers[key] = unescapeHeader(line[sep+1:])
	}

	return Frame{Command: command, Headers: headers, Body: body}, nil
}

var headerEscaper = strings.NewReplacer(
	`\`, `\\`,
	"\r", `\r`,
	"\n", `\n`,
	":", `\c`,
)

var headerUnescaper = strings.NewReplacer(
	`\r`, "\r",
	`\n`, "\n",
	`\c`, ":",
	`\\`, `\`,
)

func escapeHeader(v string) string {
	return headerEscaper.Replace(v)
}

func unescapeHeader(v string) string {
	return headerUnescaper.Replace(v)
}
