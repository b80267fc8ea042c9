package hosts

import (
	"bytes"
	"strings"
	"time"
)

// HL7Fields holds the handful of MSH fields the HL7 specialisation extracts
// (spec §4.4.4) without attempting a full ER7 parse.
type HL7Fields struct {
	MessageType          string
	TriggerEvent         string
	ControlID            string
	SendingApplication   string
	SendingFacility      string
	ReceivingApplication string
	ReceivingFacility    string
	FieldSeparator       byte
	EncodingCharacters   string
}

// segments splits a raw HL7 frame on its segment terminator, tolerating
// either a bare \r (the wire standard) or \n (common in file-based test
// fixtures and editors).
func segments(raw []byte) []string {
	normalized := bytes.ReplaceAll(raw, []byte("\r\n"), []byte("\r"))
	normalized = bytes.ReplaceAll(normalized, []byte("\n"), []byte("\r"))
	parts := strings.Split(string(normalized), "\r")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// ExtractMSH parses just the MSH segment of an inbound frame, extracting
// the message type (MSH-9.1^MSH-9.2), control id (MSH-10), and the
// sending/receiving application and facility (MSH-3..6) per spec §4.4.4.
func ExtractMSH(raw []byte) (HL7Fields, bool) {
	var fields HL7Fields

	for _, seg := range segments(raw) {
		if !strings.HasPrefix(seg, "MSH") {
			continue
		}
		if len(seg) < 4 {
			return fields, false
		}
		fields.FieldSeparator = seg[3]
		sep := string(seg[3])
		f := strings.Split(seg, sep)
		// f[0] = "MSH", f[1] = encoding characters, f[2] = sending app, ...
		get := func(i int) string {
			if i < len(f) {
				return f[i]
			}
			return ""
		}

		fields.EncodingCharacters = get(1)
		fields.SendingApplication = get(2)
		fields.SendingFacility = get(3)
		fields.ReceivingApplication = get(4)
		fields.ReceivingFacility = get(5)

		if msgType := get(8); msgType != "" {
			comp := strings.Split(msgType, "^")
			fields.MessageType = comp[0]
			if len(comp) > 1 {
				fields.TriggerEvent = comp[1]
			}
		}
		fields.ControlID = get(9)
		return fields, true
	}

	return fields, false
}

// ExtractMSA1 returns the MSA-1 acknowledgement code (AA/AE/AR/CA/CE/CR)
// from a received ACK, used by the outbound operation's reply-code-action
// classifier (spec §4.4.3).
func ExtractMSA1(raw []byte) (string, bool) {
	for _, seg := range segments(raw) {
		if !strings.HasPrefix(seg, "MSA") {
			continue
		}
		if len(seg) < 4 {
			return "", false
		}
		sep := string(seg[3])
		f := strings.Split(seg, sep)
		if len(f) > 1 && f[1] != "" {
			return f[1], true
		}
		return "", false
	}
	return "", false
}

// AckCode selects the MSA-1 code for a synthesized acknowledgement (spec
// §4.4.4): AA/AE/AR normally, extended to CA/CE/CR when the host's
// use_ack_commit_codes setting is enabled.
func AckCode(isError, isReject, useCommitCodes bool) string {
	switch {
	case isReject:
		if useCommitCodes {
			return "CR"
		}
		return "AR"
	case isError:
		if useCommitCodes {
			return "CE"
		}
		return "AE"
	default:
		if useCommitCodes {
			return "CA"
		}
		return "AA"
	}
}

// BuildAck constructs a minimal HL7 ACK message (spec §4.4.4): MSH with
// sender/receiver reversed and a freshly incremented control id, followed
// by MSA|<code>|<original control id>.
func BuildAck(original HL7Fields, code, ackControlID string, now time.Time) []byte {
	sep := "|"
	if original.FieldSeparator != 0 {
		sep = string(original.FieldSeparator)
	}
	enc := original.EncodingCharacters
	if enc == "" {
		enc = `^~\&`
	}

	msgType := "ACK"
	if original.TriggerEvent != "" {
		msgType = "ACK^" + original.TriggerEvent
	}

	// MSH-1 (field separator) is implicit in the join; fields below start
	// at MSH-2 (encoding characters).
	mshFields := []string{
		enc,
		original.ReceivingApplication,
		original.ReceivingFacility,
		original.SendingApplication,
		original.SendingFacility,
		now.UTC().Format("20060102150405"),
		"", // MSH-8 security
		msgType,
		ackControlID,
		"P",
		"2.3",
	}

	var buf bytes.Buffer
	buf.WriteString("MSH")
	buf.WriteString(sep)
	buf.WriteString(strings.Join(mshFields, sep))
	buf.WriteString("\r")

	buf.WriteString(strings.Join([]string{"MSA", code, original.ControlID}, sep))
	buf.WriteString("\r")

	return buf.Bytes()
}
