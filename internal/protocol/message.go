package protocol

import (
	"github.com/rudransh-shrivastava/blind-pairing/internal/wire"
)

// Message is one DHT RPC. Every message carries the request id of the
// exchange it belongs to in field 1.
type Message interface {
	Type() MessageType
	ID() string
	marshal() []byte
	unmarshal(r *wire.Record)
}

const fieldRequestID = 1

type Ping struct {
	RequestID string
}

func (Ping) Type() MessageType { return MsgPing }
func (m *Ping) ID() string { return m.RequestID }
func (m *Ping) marshal() []byte { return wire.AppendString(nil, fieldRequestID, m.RequestID) }
func (m *Ping) unmarshal(r *wire.Record) { m.RequestID = r.String(fieldRequestID) }

type Pong struct {
	RequestID string
}

func (Pong) Type() MessageType { return MsgPong }
func (m *Pong) ID() string { return m.RequestID }
func (m *Pong) marshal() []byte { return wire.AppendString(nil, fieldRequestID, m.RequestID) }
func (m *Pong) unmarshal(r *wire.Record) { m.RequestID = r.String(fieldRequestID) }

type Ack struct {
	RequestID string
}

func (Ack) Type() MessageType { return MsgAck }
func (m *Ack) ID() string { return m.RequestID }
func (m *Ack) marshal() []byte { return wire.AppendString(nil, fieldRequestID, m.RequestID) }
func (m *Ack) unmarshal(r *wire.Record) { m.RequestID = r.String(fieldRequestID) }

type LookupReq struct {
	RequestID string
	Topic     []byte
}

func (LookupReq) Type() MessageType { return MsgLookupReq }
func (m *LookupReq) ID() string { return m.RequestID }

func (m *LookupReq) marshal() []byte {
	b := wire.AppendString(nil, fieldRequestID, m.RequestID)
	return wire.AppendBytes(b, 2, m.Topic)
}

func (m *LookupReq) unmarshal(r *wire.Record) {
	m.RequestID = r.String(fieldRequestID)
	m.Topic = r.Bytes(2)
}

type LookupRes struct {
	RequestID string
	Peers     [][]byte
}

func (LookupRes) Type() MessageType { return MsgLookupRes }
func (m *LookupRes) ID() string { return m.RequestID }

func (m *LookupRes) marshal() []byte {
	b := wire.AppendString(nil, fieldRequestID, m.RequestID)
	for _, p := range m.Peers {
		b = wire.AppendBytes(b, 2, p)
	}
	return b
}

func (m *LookupRes) unmarshal(r *wire.Record) {
	m.RequestID = r.String(fieldRequestID)
	m.Peers = r.List(2)
}

type MutableGetReq struct {
	RequestID string
	PublicKey []byte
	Latest    bool
}

func (MutableGetReq) Type() MessageType { return MsgMutableGetReq }
func (m *MutableGetReq) ID() string { return m.RequestID }

func (m *MutableGetReq) marshal() []byte {
	b := wire.AppendString(nil, fieldRequestID, m.RequestID)
	b = wire.AppendBytes(b, 2, m.PublicKey)
	return wire.AppendBool(b, 3, m.Latest)
}

func (m *MutableGetReq) unmarshal(r *wire.Record) {
	m.RequestID = r.String(fieldRequestID)
	m.PublicKey = r.Bytes(2)
	m.Latest = r.Uint(3) != 0
}

type MutableGetRes struct {
	RequestID string
	Found     bool
	Value     []byte
	Seq       uint64
	Signature []byte
}

func (MutableGetRes) Type() MessageType { return MsgMutableGetRes }
func (m *MutableGetRes) ID() string { return m.RequestID }

func (m *MutableGetRes) marshal() []byte {
	b := wire.AppendString(nil, fieldRequestID, m.RequestID)
	b = wire.AppendBool(b, 2, m.Found)
	b = wire.AppendOptional(b, 3, m.Value)
	b = wire.AppendUint(b, 4, m.Seq)
	return wire.AppendOptional(b, 5, m.Signature)
}

func (m *MutableGetRes) unmarshal(r *wire.Record) {
	m.RequestID = r.String(fieldRequestID)
	m.Found = r.Uint(2) != 0
	m.Value = r.Bytes(3)
	m.Seq = r.Uint(4)
	m.Signature = r.Bytes(5)
}

type MutablePutReq struct {
	RequestID string
	PublicKey []byte
	Value     []byte
	Seq       uint64
	Signature []byte
}

func (MutablePutReq) Type() MessageType { return MsgMutablePutReq }
func (m *MutablePutReq) ID() string { return m.RequestID }

func (m *MutablePutReq) marshal() []byte {
	b := wire.AppendString(nil, fieldRequestID, m.RequestID)
	b = wire.AppendBytes(b, 2, m.PublicKey)
	b = wire.AppendOptional(b, 3, m.Value)
	b = wire.AppendUint(b, 4, m.Seq)
	return wire.AppendBytes(b, 5, m.Signature)
}

func (m *MutablePutReq) unmarshal(r *wire.Record) {
	m.RequestID = r.String(fieldRequestID)
	m.PublicKey = r.Bytes(2)
	m.Value = r.Bytes(3)
	m.Seq = r.Uint(4)
	m.Signature = r.Bytes(5)
}

// AnnounceReq and UnannounceReq carry a signature over the topic made with
// the announced key, so only its holder can add or remove it.
type AnnounceReq struct {
	RequestID string
	Topic     []byte
	PublicKey []byte
	Signature []byte
}

func (AnnounceReq) Type() MessageType { return MsgAnnounceReq }
func (m *AnnounceReq) ID() string { return m.RequestID }
func (m *AnnounceReq) marshal() []byte {
	return marshalAnnounce(m.RequestID, m.Topic, m.PublicKey, m.Signature)
}
func (m *AnnounceReq) unmarshal(r *wire.Record) {
	m.RequestID, m.Topic, m.PublicKey, m.Signature = unmarshalAnnounce(r)
}

type UnannounceReq struct {
	RequestID string
	Topic     []byte
	PublicKey []byte
	Signature []byte
}

func (UnannounceReq) Type() MessageType { return MsgUnannounceReq }
func (m *UnannounceReq) ID() string { return m.RequestID }
func (m *UnannounceReq) marshal() []byte {
	return marshalAnnounce(m.RequestID, m.Topic, m.PublicKey, m.Signature)
}
func (m *UnannounceReq) unmarshal(r *wire.Record) {
	m.RequestID, m.Topic, m.PublicKey, m.Signature = unmarshalAnnounce(r)
}

func marshalAnnounce(id string, topic, publicKey, sig []byte) []byte {
	b := wire.AppendString(nil, fieldRequestID, id)
	b = wire.AppendBytes(b, 2, topic)
	b = wire.AppendBytes(b, 3, publicKey)
	return wire.AppendBytes(b, 4, sig)
}

func unmarshalAnnounce(r *wire.Record) (string, []byte, []byte, []byte) {
	return r.String(fieldRequestID), r.Bytes(2), r.Bytes(3), r.Bytes(4)
}

type Error struct {
	RequestID string
	Code      ErrorCode
	Message   string
}

func (Error) Type() MessageType { return MsgError }
func (m *Error) ID() string { return m.RequestID }

func (m *Error) Error() string {
	if m.Message == "" {
		return m.Code.String()
	}
	return m.Code.String() + ": " + m.Message
}

func (m *Error) marshal() []byte {
	b := wire.AppendString(nil, fieldRequestID, m.RequestID)
	b = wire.AppendUint(b, 2, uint64(m.Code))
	return wire.AppendString(b, 3, m.Message)
}

func (m *Error) unmarshal(r *wire.Record) {
	m.RequestID = r.String(fieldRequestID)
	m.Code = ErrorCode(r.Uint(2))
	m.Message = r.String(3)
}

func newMessage(t MessageType) Message {
	switch t {
	case MsgAck:
		return &Ack{}
	case MsgAnnounceReq:
		return &AnnounceReq{}
	case MsgError:
		return &Error{}
	case MsgLookupReq:
		return &LookupReq{}
	case MsgLookupRes:
		return &LookupRes{}
	case MsgMutableGetReq:
		return &MutableGetReq{}
	case MsgMutableGetRes:
		return &MutableGetRes{}
	case MsgMutablePutReq:
		return &MutablePutReq{}
	case MsgPing:
		return &Ping{}
	case MsgPong:
		return &Pong{}
	case MsgUnannounceReq:
		return &UnannounceReq{}
	default:
		return nil
	}
}
