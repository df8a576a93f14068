package config

import (
	"os"
)

// Defaults; everything can be overridden by environment or flags.
const (
	DefaultAddr       = ":8080"
	DefaultServerURL  = "ws://localhost:8080/api/socketio"
	DefaultSTUNServer = "stun:stun.l.google.com:19302"
)

// Server holds the signaling gateway configuration.
type Server struct {
	Addr string
}

// LoadServer reads server configuration from the environment.
func LoadServer() *Server {
	return &Server{
		Addr: envOr("CALLBRIDGE_ADDR", DefaultAddr),
	}
}

// Client holds the call client configuration.
type Client struct {
	ServerURL  string
	STUNServer string
	TURNServer string
	TURNUser   string
	TURNPass   string
}

// ClientOptions carries CLI flag values that take precedence over the
// environment.
type ClientOptions struct {
	ServerURL  string
	STUNServer string
	TURNServer string
	TURNUser   string
	TURNPass   string
}

// LoadClient resolves each setting as flag > env > default.
func LoadClient(opts ClientOptions) *Client {
	return &Client{
		ServerURL:  firstOf(opts.ServerURL, os.Getenv("CALLBRIDGE_SERVER_URL"), DefaultServerURL),
		STUNServer: firstOf(opts.STUNServer, os.Getenv("CALLBRIDGE_STUN_SERVER"), DefaultSTUNServer),
		TURNServer: firstOf(opts.TURNServer, os.Getenv("CALLBRIDGE_TURN_SERVER"), ""),
		TURNUser:   firstOf(opts.TURNUser, os.Getenv("CALLBRIDGE_TURN_USERNAME"), ""),
		TURNPass:   firstOf(opts.TURNPass, os.Getenv("CALLBRIDGE_TURN_PASSWORD"), ""),
	}
}

// STUNURLs returns the STUN server URLs for the peer connection config.
func (c *Client) STUNURLs() []string {
	return []string{c.STUNServer}
}

// TURNURLs returns TURN server URLs if a relay is configured.
func (c *Client) TURNURLs() []string {
	if c.TURNServer == "" {
		return nil
	}
	return []string{c.TURNServer}
}

// TURNCredentials returns the TURN username and password.
func (c *Client) TURNCredentials() (string, string) {
	return c.TURNUser, c.TURNPass
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func firstOf(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
