// Package at tokenizes and classifies the AT command dialogue a modem speaks
// before it is switched into multiplexer mode.
//
// Responses arrive as CR and/or LF terminated lines and end with a final
// result code. Modems that have not been told ATE0 echo the command line
// back first; the classifier reports those lines as TypeEcho.
package at

import (
	"bytes"
	"strings"
)

const (
	// Terminal Control
	CR     = "\r"
	CRLF   = "\r\n"
	Prompt = "> "

	// Response Codes
	OK         = "OK"
	ERROR      = "ERROR"
	Connect    = "CONNECT"
	NoCarrier  = "NO CARRIER"
	NoDialtone = "NO DIALTONE"
	Busy       = "BUSY"
	NoAnswer   = "NO ANSWER"
	CmeError   = "+CME ERROR:"
	CmsError   = "+CMS ERROR:"

	// Commands
	CmdAt      = "AT"
	CmdEchoOff = "ATE0"
	CmdCMUX    = "AT+CMUX=0"

	// URCs (Unsolicited Result Codes)
	UrcNewMsg = "+CMTI:"
	UrcReg    = "+CREG:"
	UrcCall   = "RING"
	UrcReady  = "RDY"
)

// ResponseType classifies one modem output line
type ResponseType int

const (
	// TypeFinal ends the current command: OK, ERROR, +CME ERROR and friends
	TypeFinal ResponseType = iota

	// TypeURC is an unsolicited result code such as RING
	TypeURC

	// TypeData is intermediate command output
	TypeData

	// TypePrompt is the "> " text entry prompt
	TypePrompt

	// TypeEcho is the modem repeating the command line back
	TypeEcho
)

// String returns string representation of ResponseType
func (t ResponseType) String() string {
	switch t {
	case TypeFinal:
		return "Final"
	case TypeURC:
		return "URC"
	case TypeData:
		return "Data"
	case TypePrompt:
		return "Prompt"
	case TypeEcho:
		return "Echo"
	default:
		return "Unknown"
	}
}

var finalCodes = []string{OK, ERROR, NoCarrier, NoDialtone, Busy, NoAnswer}

var urcPrefixes = []string{UrcNewMsg, UrcReg, UrcCall, UrcReady, "+CDSI:", "+CGREG:", "+CEREG:", "^SYSSTART"}

// Classify reports what kind of line the modem sent
func Classify(line string) ResponseType {
	line = strings.TrimSpace(line)
	if line == strings.TrimSpace(Prompt) || line == Prompt {
		return TypePrompt
	}
	for _, code := range finalCodes {
		if line == code {
			return TypeFinal
		}
	}
	if strings.HasPrefix(line, Connect) || strings.HasPrefix(line, CmeError) || strings.HasPrefix(line, CmsError) {
		return TypeFinal
	}
	for _, p := range urcPrefixes {
		if strings.HasPrefix(line, p) {
			return TypeURC
		}
	}
	if len(line) >= 2 && strings.EqualFold(line[:2], CmdAt) {
		return TypeEcho
	}
	return TypeData
}

// IsSuccess reports whether a final result line means the command worked
func IsSuccess(line string) bool {
	line = strings.TrimSpace(line)
	return line == OK || strings.HasPrefix(line, Connect)
}

// Splitter is a bufio.SplitFunc yielding one response line per token.
// Empty lines are skipped and the "> " prompt is a token of its own.
func Splitter(data []byte, atEOF bool) (advance int, token []byte, err error) {
	start := 0
	for start < len(data) && (data[start] == '\r' || data[start] == '\n') {
		start++
	}
	if start == len(data) {
		return start, nil, nil
	}

	rest := data[start:]
	if bytes.HasPrefix(rest, []byte(Prompt)) {
		return start + len(Prompt), rest[:len(Prompt)], nil
	}
	if i := bytes.IndexAny(rest, CRLF); i >= 0 {
		end := start + i + 1
		if rest[i] == '\r' && i+1 < len(rest) && rest[i+1] == '\n' {
			end++
		}
		return end, rest[:i], nil
	}
	if atEOF {
		return len(data), rest, nil
	}
	return start, nil, nil
}
