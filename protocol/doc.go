package protocol

// This package implements the parsing and serialising of the line protocol
// OOCSI clients and servers use to talk to each other.
//
// A single TCP connection carries everything: the handshake, subscriptions,
// events pushed by the server and the occasional request/response exchange.
//
// === General Syntax
//
// - lines are `\n` delimited, a trailing `\r` is tolerated and removed
// - blank lines are ignored
// - commands are lowercase and case sensitive
//
// === Handshake
//
//  ```
//    > <name>(JSON)\n
//    < welcome <name>\n
//  ```
//
// The client identifies itself immediately after connecting. The server
// acknowledges with a line containing `welcome <name>`. Anything else (or
// nothing at all) means the server rejected us, usually because the name is
// already taken.
//
// === Client Commands
//
// - `subscribe <channel>`         - start receiving events for a channel
// - `sendraw <channel> <message>` - publish a message on a channel
// - `ping`                        - liveness probe
// - `quit`                        - the client is going away
// - `clients` / `channels`        - ask the server for a listing
// - `.`                           - acknowledgement
//
// === Server Frames
//
// Events arrive as single-line JSON objects. Three keys are reserved and are
// stripped from the payload before it reaches a handler:
//
//  ```
//    {"recipient":"<channel>","sender":"<client>","timestamp":<ms>, ...payload}
//  ```
//
// Older servers send positional frames instead:
//
//  ```
//    send <channel> <data> <timestamp> <sender>
//  ```
//
// Keep-alive traffic is either `ping` (the server wants a `.` back) or a bare
// `.` (nothing to do).
//
// Anything else is a reply to the last request the client made. Replies are
// not tagged with a request id, so only one request may be in flight at a
// time.
//
// === Multicast Discovery
//
// Servers may announce themselves with UDP datagrams to 224.0.0.144:4448:
//
//  ```
//    OOCSI@<host>:<port>
//  ```
//
