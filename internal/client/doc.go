// Package client provides the mirror client.
//
// A Proxy talks to one worker over a transport.Port. It stamps every
// request with an id unique to the proxy and resolves the waiting caller
// when the response carrying that id arrives. Workers decides which worker
// a Proxy reaches: the shared kvmirror-worker daemon when its socket
// answers, otherwise one in-process worker per URL.
package client
