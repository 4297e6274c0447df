// Package port implements the transport side of a port manager: configuration,
// the Backend capability set, the shared backend core holding the frame pools
// and queues, the reader and writer workers, and the concrete backends.
//
// # Locking
//
// Every backend embeds a Base whose mutex guards the frame pools and queues and
// the timeout flags. Workers and the manager hold it while touching any of them.
// Wait calls are made with the lock held; the backend releases it for the
// blocking window and re-acquires it before returning.
//
// # Timeouts
//
// WaitForReadable and WaitForWritable return nil when they time out and set the
// matching timeout flag, so callers can tell "nothing happened, retry" from a
// hard failure. A non-nil error is one of ErrDisconnected, ErrWaitCanceled or a
// wrapped system error.
//
// # Backends
//
//   - TCPPort: a net.Conn with read/write deadlines, reconnected by the reader.
//   - SerialPort: a POSIX tty configured with termios, waited on with select and
//     woken up through a pipe (Linux only).
//   - DeviceFile: the same descriptor engine without termios; the device node is
//     awaited with fsnotify when it disappears (Linux only).
//   - UsbBulk: the bulk endpoints of a USB interface through usbfs, carrying
//     USBTMC frames with their bulk headers (Linux only). Write releases the
//     lock for the transfer as well.
//   - MemPort: an in-memory peer used by tests and for loopback.
package port
