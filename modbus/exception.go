package modbus

import "fmt"

// ExceptionCode is the exception code returned by a MODBUS server.
type ExceptionCode uint8

const (
	UnknownError           ExceptionCode = 0x00
	IllegalFunction        ExceptionCode = 0x01
	IllegalDataAddress     ExceptionCode = 0x02
	IllegalDataValue       ExceptionCode = 0x03
	ServerDeviceFailure    ExceptionCode = 0x04
	Acknowledge            ExceptionCode = 0x05
	ServerDeviceBusy       ExceptionCode = 0x06
	NegativeAcknowledge    ExceptionCode = 0x07
	MemoryParityError      ExceptionCode = 0x08
	GatewayPathUnavailable ExceptionCode = 0x0A
	GatewayTargetResponse  ExceptionCode = 0x0B
)

// exceptionFromByte maps the low nibble of an exception byte to a known code.
func exceptionFromByte(b byte) ExceptionCode {
	switch c := ExceptionCode(b & 0x0F); c {
	case IllegalFunction, IllegalDataAddress, IllegalDataValue, ServerDeviceFailure,
		Acknowledge, ServerDeviceBusy, NegativeAcknowledge, MemoryParityError,
		GatewayPathUnavailable, GatewayTargetResponse:
		return c
	default:
		return UnknownError
	}
}

func (c ExceptionCode) String() string {
	switch c {
	case IllegalFunction:
		return "illegal function"
	case IllegalDataAddress:
		return "illegal data address"
	case IllegalDataValue:
		return "illegal data value"
	case ServerDeviceFailure:
		return "server device failure"
	case Acknowledge:
		return "acknowledge"
	case ServerDeviceBusy:
		return "server device busy"
	case NegativeAcknowledge:
		return "negative acknowledge"
	case MemoryParityError:
		return "memory parity error"
	case GatewayPathUnavailable:
		return "gateway path unavailable"
	case GatewayTargetResponse:
		return "gateway target device failed to respond"
	default:
		return "unknown error"
	}
}

// ExceptionError is returned by Decode when the server answered with an exception PDU.
type ExceptionError struct {
	Function byte
	Code     ExceptionCode
}

func (e *ExceptionError) Error() string {
	return fmt.Sprintf("modbus: exception 0x%02X (%s) for function 0x%02X", uint8(e.Code), e.Code, e.Function)
}
