package pipeline

import (
	"strings"

	"pcappuller/internal/errors"
)

// Format is the container format of the published capture.
type Format int

const (
	PcapNG Format = iota
	Pcap
)

// ParseFormat maps a user-facing name to a Format. Blank selects PcapNG.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "pcapng":
		return PcapNG, nil
	case "pcap":
		return Pcap, nil
	default:
		return PcapNG, errors.Argument("unknown output format %q (want pcap or pcapng)", s)
	}
}

// String returns the name the trim and filter tools accept for -F.
func (f Format) String() string {
	if f == Pcap {
		return "pcap"
	}
	return "pcapng"
}

// Extension returns the file extension, with the leading dot.
func (f Format) Extension() string {
	return "." + f.String()
}
