// Package engine is the connection engine of the CommuCat client: it
// establishes the transport session, runs the Hello/Auth/Ack handshake
// interleaved with the Noise key exchange, and multiplexes application
// frames over the authenticated stream.
//
// All connection state is owned by a single actor goroutine fed through a
// command channel. Callers submit Command values with Engine.Send and
// consume Event values from Engine.Events; at most one connection is live
// at any time.
//
//	eng := engine.New(16, 64)
//	defer eng.Close()
//	eng.Send(engine.Connect{Profile: profile})
//	for ev := range eng.Events() {
//	    switch ev := ev.(type) {
//	    case engine.Connected:
//	        ...
//	    }
//	}
package engine
