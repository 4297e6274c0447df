// Package frame implements the byte accumulators used by the port workers to
// assemble wire messages.
//
// A Frame has a fixed capacity and an end-of-message policy selected by its Type:
//
//   - TypeRaw: the frame is complete when it is full, or when the reader marks it
//     complete after a read timeout (timeout based protocols).
//   - TypeASCII: the frame is complete when the end-of-frame sequence is seen. The
//     sequence may be a single byte or several bytes and is stripped from the
//     payload. NUL bytes may optionally be dropped.
//   - TypeModbusTCP: the frame reads the MBAP length field and is complete when the
//     header and the announced PDU bytes are stored.
//   - TypeUsbtmc: the frame reads the USBTMC TransferSize field and is complete
//     when the bulk header, the payload and its alignment bytes are stored.
//
// PutData never accepts more than the frame can hold; it returns the number of
// input bytes consumed and the caller submits the remainder to the next frame.
//
// Frames are not goroutine-safe. They are owned by the frame pools of a port
// backend and only mutated while the backend lock is held.
package frame
