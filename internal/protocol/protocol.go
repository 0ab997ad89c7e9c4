// Package protocol implements the ZeroBoot wire protocol: the
// line-oriented command set spoken between host and loader, and the
// resident state machine that executes it on the device.
//
// Commands are ASCII lines terminated by LF (CR is accepted and
// dropped). A WRITE command opens a binary window of exactly the
// declared length; every other byte on the wire is text.
package protocol

// Loader version reported by HELLO.
const (
	VersionMajor = 1
	VersionMinor = 0
)

// Command verbs (host to loader).
const (
	CmdHello = "HELLO"
	CmdErase = "ERASE APP"
	CmdWrite = "WRITE"
	CmdDone  = "DONE"
)

// Replies (loader to host). All are LF-terminated on the wire.
const (
	ReplyOKErase     = "OK ERASE\n"
	ReplyOKWrite     = "OK WRITE\n"
	ReplyOKDone      = "OK DONE\n"
	ReplyErrCRC      = "ERR CRC\n"
	ReplyErrParam    = "ERR PARAM\n"
	ReplyErrFormat   = "ERR FORMAT\n"
	ReplyErrSig      = "ERR SIGNATURE\n"
	ReplyErrUnknown  = "ERR UNKNOWN\n"
	replyBootPattern = "OK BOOT v%d.%d\n"
)

// cmdBufSize bounds a single command line, excluding binary data. The
// longest legal line is DONE with its 128 hex digits (133 bytes).
const cmdBufSize = 160
