// Package client provides access to the SolarEdge monitoring portal.
//
// The Client interface abstracts the three backend calls the exporter needs:
// the logical site layout, the lifetime energy of every optimizer, and the
// latest reading of a single optimizer. WebClient implements it against the
// portal's HTTPS endpoints using basic auth and a cookie session.
package client
