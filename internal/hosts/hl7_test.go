package hosts

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleADT = "MSH|^~\\&|SENDAPP|SENDFAC|RECVAPP|RECVFAC|20260101120000||ADT^A01|CTRL123|P|2.3\r" +
	"EVN|A01|20260101120000\r" +
	"PID|1||12345^^^MRN||DOE^JANE\r"

func TestExtractMSHParsesCoreFields(t *testing.T) {
	fields, ok := ExtractMSH([]byte(sampleADT))
	require.True(t, ok)

	assert.Equal(t, "ADT", fields.MessageType)
	assert.Equal(t, "A01", fields.TriggerEvent)
	assert.Equal(t, "CTRL123", fields.ControlID)
	assert.Equal(t, "SENDAPP", fields.SendingApplication)
	assert.Equal(t, "SENDFAC", fields.SendingFacility)
	assert.Equal(t, "RECVAPP", fields.ReceivingApplication)
	assert.Equal(t, "RECVFAC", fields.ReceivingFacility)
}

func TestExtractMSHMissingSegmentReturnsFalse(t *testing.T) {
	_, ok := ExtractMSH([]byte("PID|1||12345\r"))
	assert.False(t, ok)
}

func TestExtractMSA1FromAck(t *testing.T) {
	ack := "MSH|^~\\&|RECVAPP|RECVFAC|SENDAPP|SENDFAC|20260101120001||ACK^A01|CTRL124|P|2.3\r" +
		"MSA|AA|CTRL123\r"

	code, ok := ExtractMSA1([]byte(ack))
	require.True(t, ok)
	assert.Equal(t, "AA", code)
}

func TestExtractMSA1NoMSASegment(t *testing.T) {
	_, ok := ExtractMSA1([]byte(sampleADT))
	assert.False(t, ok)
}

func TestAckCodeSelection(t *testing.T) {
	assert.Equal(t, "AA", AckCode(false, false, false))
	assert.Equal(t, "AE", AckCode(true, false, false))
	assert.Equal(t, "AR", AckCode(false, true, false))
	assert.Equal(t, "CA", AckCode(false, false, true))
	assert.Equal(t, "CE", AckCode(true, false, true))
	assert.Equal(t, "CR", AckCode(false, true, true))
}

func TestBuildAckReversesSenderReceiverAndEmbedsMSA(t *testing.T) {
	fields, ok := ExtractMSH([]byte(sampleADT))
	require.True(t, ok)

	ack := BuildAck(fields, "AA", "CTRL124", time.Date(2026, 1, 1, 12, 0, 1, 0, time.UTC))
	ackFields, ok := ExtractMSH(ack)
	require.True(t, ok)

	assert.Equal(t, "RECVAPP", ackFields.SendingApplication)
	assert.Equal(t, "RECVFAC", ackFields.SendingFacility)
	assert.Equal(t, "SENDAPP", ackFields.ReceivingApplication)
	assert.Equal(t, "SENDFAC", ackFields.ReceivingFacility)
	assert.Equal(t, "CTRL124", ackFields.ControlID)
	assert.Equal(t, "ACK", ackFields.MessageType)

	code, ok := ExtractMSA1(ack)
	require.True(t, ok)
	assert.Equal(t, "AA", code)
}
