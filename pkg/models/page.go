package models

import (
	"net"
	"strconv"
)

// Endpoint is a discovery probe target
type Endpoint struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

// Address joins host and port for dialing
func (e Endpoint) Address() string {
	return net.JoinHostPort(e.Host, strconv.Itoa(e.Port))
}

// Page is a remote-debuggable document exposed by the target application's
// debug endpoint. Field tags match the /json/list descriptor.
type Page struct {
	ID                   string `json:"id"`
	URL                  string `json:"url"`
	Title                string `json:"title"`
	Type                 string `json:"type,omitempty"`
	WebSocketDebuggerURL string `json:"webSocketDebuggerUrl"`
}

// Attachable reports whether the descriptor carries a usable debug socket address
func (p Page) Attachable() bool {
	return p.WebSocketDebuggerURL != ""
}

// PortScan is the result of probing a single port
type PortScan struct {
	Port  int    `json:"port"`
	Pages []Page `json:"pages"`
}

// PageStatus describes an attached page as seen by the controller
type PageStatus struct {
	Page       Page   `json:"page"`
	Injected   bool   `json:"injected"`
	Running    bool   `json:"running"`
	Generation uint64 `json:"generation"`
}
