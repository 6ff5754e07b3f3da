// Package discovery finds OOCSI servers on the local network.
//
// Servers announce themselves by periodically sending `OOCSI@<host>:<port>`
// datagrams to the multicast group 224.0.0.144 on port 4448. Lookup listens
// for such an announcement and reports the first well formed one, Announcer
// is the sending side.
//
// The listening socket is opened with SO_REUSEPORT so several clients on the
// same machine can look up a server at the same time.
package discovery
