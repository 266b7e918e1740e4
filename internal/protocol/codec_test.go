package protocol

import (
	"bytes"
	"errors"
	"testing"
)

func TestCodecPingPong(t *testing.T) {
	codec := NewCodec()
	var buf bytes.Buffer

	if err := codec.Encode(&buf, &Ping{RequestID: "abc"}); err != nil {
		t.Fatalf("Encode Ping failed: %v", err)
	}

	decoded, err := codec.Decode(&buf)
	if err != nil {
		t.Fatalf("Decode Ping failed: %v", err)
	}

	ping, ok := decoded.(*Ping)
	if !ok {
		t.Fatalf("Expected *Ping, got %T", decoded)
	}
	if ping.ID() != "abc" {
		t.Errorf("Expected request id abc, got %q", ping.ID())
	}
}

func TestCodecMutablePut(t *testing.T) {
	codec := NewCodec()

	req := &MutablePutReq{
		RequestID: "r1",
		PublicKey: bytes.Repeat([]byte{1}, 32),
		Value:     []byte("value"),
		Seq:       7,
		Signature: bytes.Repeat([]byte{2}, 64),
	}
	data, err := codec.EncodeToBytes(req)
	if err != nil {
		t.Fatalf("EncodeToBytes failed: %v", err)
	}

	decoded, err := codec.DecodeFromBytes(data)
	if err != nil {
		t.Fatalf("DecodeFromBytes failed: %v", err)
	}

	got, ok := decoded.(*MutablePutReq)
	if !ok {
		t.Fatalf("Expected *MutablePutReq, got %T", decoded)
	}
	if got.Seq != 7 {
		t.Errorf("Expected seq 7, got %d", got.Seq)
	}
	if string(got.Value) != "value" {
		t.Errorf("Expected value, got %q", got.Value)
	}
	if !bytes.Equal(got.Signature, req.Signature) {
		t.Error("Signature mismatch")
	}
}

func TestCodecLookupRes(t *testing.T) {
	codec := NewCodec()

	res := &LookupRes{RequestID: "r2", Peers: [][]byte{{1}, {2}, {3}}}
	data, err := codec.EncodeToBytes(res)
	if err != nil {
		t.Fatalf("EncodeToBytes failed: %v", err)
	}

	decoded, err := codec.DecodeFromBytes(data)
	if err != nil {
		t.Fatalf("DecodeFromBytes failed: %v", err)
	}

	got := decoded.(*LookupRes)
	if len(got.Peers) != 3 {
		t.Fatalf("Expected 3 peers, got %d", len(got.Peers))
	}
	if got.Peers[2][0] != 3 {
		t.Errorf("Expected peer order to be kept, got %v", got.Peers)
	}
}

func TestCodecMutableGetResNotFound(t *testing.T) {
	codec := NewCodec()

	data, err := codec.EncodeToBytes(&MutableGetRes{RequestID: "r3"})
	if err != nil {
		t.Fatalf("EncodeToBytes failed: %v", err)
	}
	decoded, err := codec.DecodeFromBytes(data)
	if err != nil {
		t.Fatalf("DecodeFromBytes failed: %v", err)
	}
	if decoded.(*MutableGetRes).Found {
		t.Error("Expected Found to be false")
	}
}

func TestCodecError(t *testing.T) {
	codec := NewCodec()
	var buf bytes.Buffer

	msg := &Error{
		RequestID: "r4",
		Code:      ErrSeqReused,
		Message:   "slot already written",
	}
	if err := codec.Encode(&buf, msg); err != nil {
		t.Fatalf("Encode Error failed: %v", err)
	}

	decoded, err := codec.Decode(&buf)
	if err != nil {
		t.Fatalf("Decode Error failed: %v", err)
	}

	decodedMsg, ok := decoded.(*Error)
	if !ok {
		t.Fatalf("Expected *Error, got %T", decoded)
	}
	if decodedMsg.Code != ErrSeqReused {
		t.Errorf("Expected ErrSeqReused, got %v", decodedMsg.Code)
	}
	if decodedMsg.Error() != "SEQ_REUSED: slot already written" {
		t.Errorf("Message mismatch: %s", decodedMsg.Error())
	}
}

func TestCodecUnknownType(t *testing.T) {
	codec := NewCodec()
	_, err := codec.DecodeFromBytes([]byte{0x12, 0x34, 0, 0, 0, 0})
	if !errors.Is(err, ErrUnknownMessage) {
		t.Errorf("Expected ErrUnknownMessage, got %v", err)
	}
}

func TestCodecFrameTooLarge(t *testing.T) {
	codec := NewCodec()
	_, err := codec.DecodeFromBytes([]byte{0x00, 0x01, 0xff, 0xff, 0xff, 0xff})
	if !errors.Is(err, ErrFrameTooLarge) {
		t.Errorf("Expected ErrFrameTooLarge, got %v", err)
	}

	big := &MutablePutReq{Value: make([]byte, MaxFrameSize+1)}
	if _, err := codec.EncodeToBytes(big); !errors.Is(err, ErrFrameTooLarge) {
		t.Errorf("Expected ErrFrameTooLarge, got %v", err)
	}
}

func TestMessageTypeString(t *testing.T) {
	if MsgMutableGetReq.String() != "MUTABLE_GET_REQ" {
		t.Errorf("Expected MUTABLE_GET_REQ, got %s", MsgMutableGetReq.String())
	}
	if MessageType(0x9999).String() != "UNKNOWN" {
		t.Errorf("Expected UNKNOWN, got %s", MessageType(0x9999).String())
	}
}
