/*
Package manager drives a port backend: it owns the backend and its reader and
writer workers, correlates received frames with the transactions that were
sent, and tracks the port life cycle in a hierarchical state machine.

# State machine

	PortClosed --StartThreads--> Starting --AllThreadsReady--> Running
	Running --StopThreads--> Stopping --AllThreadsStopped--> Stopped --PortClosed--> PortClosed
	Starting, Running --UnhandledError--> PortError
	Running --ConnectionFailed--> PortError
	PortError --StopThreads--> Stopping, PortError --AllThreadsStopped--> Stopped

Running is composite, its initial child is PortReady:

	PortReady, Disconnected --Connecting--> Connecting
	Connecting --Connected--> Connected, Connecting --Disconnected--> Disconnected
	Connected --Disconnected--> Disconnected

Connected is composite, its initial child is Ready; Ready and Busy alternate on
the Busy and Ready events. State reports the active leaf.

# Transactions

A Transaction moves from the pool to the pending set when sent, then to the
done queue when its reply arrives (query/reply mode) or straight back to the
pool after the reply handlers ran. ReadenFrame and ReadenFrames consume done
transactions exactly once.

Correlation uses the id carried by the protocol (MODBUS/TCP transaction id,
USBTMC bTag). Raw and ASCII frames carry no id; they are matched with the id
of the last transaction sent. The number of requests in flight must not
exceed the id space of the protocol, otherwise replies can be miscorrelated.

# Usage

	cfg, _ := port.NewConfig(port.WithFrameType(frame.TypeASCII))
	p, _ := port.NewTCPPort("10.0.0.5:5025")
	m, err := manager.New(p, cfg)
	if err != nil {
		return err
	}
	defer m.Close()

	if err := m.Start(ctx); err != nil {
		return err
	}

	reply, err := m.Query(ctx, []byte("*IDN?\n"), time.Second)
*/
package manager
