// Package dtvclient provides a client for the DTV+ shower controller's CGI interface.
//
// The controller speaks something that resembles HTTP/1.0: it accepts a GET
// request line, but its answers range from well-formed HTTP to a bare JSON
// object surrounded by garbage. The client therefore talks over a raw TCP
// socket and decodes leniently instead of relying on net/http.
//
// # Exchanges
//
// Every call is single-shot: dial, write one request, read until the
// controller closes the connection, hang up. There is no connection reuse
// and no retry; the hub's poll cadence is the retry policy. Reads have a
// 5 second deadline, shower/preset/steam commands 10 seconds and music/light
// commands 5 seconds.
//
// # Usage Example
//
//	client := dtvclient.NewClient("192.168.1.40")
//
//	info, err := client.ReadSystemInfo(ctx)
//	if err != nil {
//	    log.Fatal(dtvclient.ShortErrorMessage(err))
//	}
//
//	outlets, _ := dtvclient.ParseOutletSelector("13")
//	_, err = client.StartShower(ctx, dtvclient.ShowerCommand{
//	    Valve1Outlets: outlets,
//	    Valve1Temp:    info.FromCelsius(40),
//	})
//
// # Decoding
//
// If the stream contains CRLFCRLF everything up to and including the first
// occurrence is dropped; otherwise the whole stream is the body. JSON is
// parsed strictly first, then from the greedy first '{' to last '}' span.
//
// # Errors
//
// Failures are returned as *DeviceError with one of the ErrorType values.
// Use IsTimeoutError, IsTransportError, IsDecodeError and IsCommandRejected
// to branch on them, and ShortErrorMessage for operator output.
package dtvclient
