package protocol

const (
	// MaxFrameSize bounds a single message body.
	MaxFrameSize = 64 * 1024
	// MaxValueSize bounds a mutable record value.
	MaxValueSize = 1000
	headerSize   = 6
)

type MessageType uint16

const (
	MsgAck           MessageType = 0x0003
	MsgAnnounceReq   MessageType = 0x0030
	MsgError         MessageType = 0x00FF
	MsgLookupReq     MessageType = 0x0010
	MsgLookupRes     MessageType = 0x0011
	MsgMutableGetReq MessageType = 0x0020
	MsgMutableGetRes MessageType = 0x0021
	MsgMutablePutReq MessageType = 0x0022
	MsgPing          MessageType = 0x0001
	MsgPong          MessageType = 0x0002
	MsgUnannounceReq MessageType = 0x0031
)

func (t MessageType) String() string {
	switch t {
	case MsgAck:
		return "ACK"
	case MsgAnnounceReq:
		return "ANNOUNCE_REQ"
	case MsgError:
		return "ERROR"
	case MsgLookupReq:
		return "LOOKUP_REQ"
	case MsgLookupRes:
		return "LOOKUP_RES"
	case MsgMutableGetReq:
		return "MUTABLE_GET_REQ"
	case MsgMutableGetRes:
		return "MUTABLE_GET_RES"
	case MsgMutablePutReq:
		return "MUTABLE_PUT_REQ"
	case MsgPing:
		return "PING"
	case MsgPong:
		return "PONG"
	case MsgUnannounceReq:
		return "UNANNOUNCE_REQ"
	default:
		return "UNKNOWN"
	}
}

type ErrorCode uint16

const (
	ErrBadSignature ErrorCode = 0x0002
	ErrInternal     ErrorCode = 0x00FF
	ErrInvalidMsg   ErrorCode = 0x0001
	ErrSeqReused    ErrorCode = 0x0003
	ErrSeqTooLow    ErrorCode = 0x0004
	ErrUnknown      ErrorCode = 0x0000
)

func (e ErrorCode) String() string {
	switch e {
	case ErrBadSignature:
		return "BAD_SIGNATURE"
	case ErrInternal:
		return "INTERNAL_ERROR"
	case ErrInvalidMsg:
		return "INVALID_MESSAGE"
	case ErrSeqReused:
		return "SEQ_REUSED"
	case ErrSeqTooLow:
		return "SEQ_TOO_LOW"
	default:
		return "UNKNOWN"
	}
}
