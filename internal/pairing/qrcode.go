// Package pairing renders the endpoint a client should connect to as a QR
// code.
package pairing

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/skip2/go-qrcode"
)

// Info contains the information encoded in the QR code.
type Info struct {
	WebSocket string `json:"ws"`
	HTTP      string `json:"http"`
	Codec     string `json:"codec"`
	Server    string `json:"server,omitempty"`
}

// QRGenerator generates QR codes for client pairing.
type QRGenerator struct {
	host     string
	port     int
	path     string
	codec    string
	server   string
	external string // Optional: public WebSocket URL (port forwarding, proxies)
}

// NewQRGenerator creates a generator for a server listening on host:port
// with its WebSocket endpoint at path.
func NewQRGenerator(host string, port int, path, codec string) *QRGenerator {
	if path == "" {
		path = "/"
	}
	if codec == "" {
		codec = "json"
	}
	return &QRGenerator{host: host, port: port, path: path, codec: codec}
}

// SetExternalURL overrides the advertised WebSocket URL.
func (g *QRGenerator) SetExternalURL(wsURL string) {
	g.external = wsURL
}

// SetServerID sets the server instance id carried in the code.
func (g *QRGenerator) SetServerID(id string) {
	g.server = id
}

// advertisedHost maps wildcard listen addresses to something dialable.
func (g *QRGenerator) advertisedHost() string {
	switch g.host {
	case "", "0.0.0.0", "::":
		return "127.0.0.1"
	}
	return g.host
}

// GetPairingInfo returns the pairing information.
func (g *QRGenerator) GetPairingInfo() *Info {
	host := g.advertisedHost()
	wsURL := fmt.Sprintf("ws://%s:%d%s", host, g.port, g.path)
	httpURL := fmt.Sprintf("http://%s:%d", host, g.port)

	if g.external != "" {
		wsURL = g.external
		httpURL = strings.TrimSuffix(strings.Replace(g.external, "ws", "http", 1), g.path)
	}

	return &Info{
		WebSocket: wsURL,
		HTTP:      httpURL,
		Codec:     g.codec,
		Server:    g.server,
	}
}

// GenerateJSON returns the pairing info as JSON.
func (g *QRGenerator) GenerateJSON() (string, error) {
	data, err := json.Marshal(g.GetPairingInfo())
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// GenerateTerminal generates a QR code for terminal display.
func (g *QRGenerator) GenerateTerminal() (string, error) {
	data, err := g.GenerateJSON()
	if err != nil {
		return "", err
	}
	qr, err := qrcode.New(data, qrcode.Medium)
	if err != nil {
		return "", err
	}
	return qr.ToSmallString(false), nil
}

// GeneratePNG generates a PNG image of the QR code.
func (g *QRGenerator) GeneratePNG(size int) ([]byte, error) {
	data, err := g.GenerateJSON()
	if err != nil {
		return nil, err
	}
	return qrcode.Encode(data, qrcode.Medium, size)
}

// Print writes the QR code and the endpoint URL to w.
func (g *QRGenerator) Print(w io.Writer) error {
	qr, err := g.GenerateTerminal()
	if err != nil {
		return err
	}

	fmt.Fprintln(w)
	fmt.Fprintf(w, "  Connect to %s\n", g.GetPairingInfo().WebSocket)
	fmt.Fprintln(w)
	for _, line := range strings.Split(qr, "\n") {
		if line != "" {
			fmt.Fprintf(w, "  %s\n", line)
		}
	}
	fmt.Fprintln(w)
	return nil
}
