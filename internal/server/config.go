package server

import (
	"os"
	"path/filepath"
	"time"
)

// DefaultSession keys the zone cache when an upload names no session.
const DefaultSession = "default"

// Config defines the runtime configuration of the detection server.
type Config struct {
	Addr              string
	UploadDir         string
	MaxUploadBytes    int64
	MaxMemoryBytes    int64 // multipart parts above this spill to disk
	ZoneTTL           time.Duration
	CORSOrigin        string
	KeepaliveInterval time.Duration // blank frame interval on an idle live stream
}

// DefaultConfig returns the configuration used when no flags are given.
func DefaultConfig() Config {
	return Config{
		Addr:              ":5000",
		UploadDir:         filepath.Join(os.TempDir(), "zonewatch", "uploads"),
		MaxUploadBytes:    512 << 20,
		MaxMemoryBytes:    32 << 20,
		ZoneTTL:           10 * time.Minute,
		CORSOrigin:        "*",
		KeepaliveInterval: 5 * time.Second,
	}
}
