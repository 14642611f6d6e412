// Package transport parses and formats RTSP Transport header values.
package transport

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

type Protocol string

const (
	ProtocolUDP Protocol = "UDP"
	ProtocolTCP Protocol = "TCP"
)

var ErrUnsupportedTransport = errors.New("unsupported transport")

// Spec is one entry of a Transport header, e.g.
// "RTP/AVP/TCP;unicast;interleaved=0-1;ssrc=1A2B3C4D".
type Spec struct {
	Protocol    Protocol
	Unicast     bool
	Interleaved []int
	ClientPort  []int
	ServerPort  []int
	SSRC        uint32
	Mode        string
}

// Interleaved returns the entry a client sends to receive RTP on channel
// rtp and RTCP on rtp+1 over the RTSP connection.
func Interleaved(rtp int) *Spec {
	return &Spec{Protocol: ProtocolTCP, Unicast: true, Interleaved: []int{rtp, rtp + 1}}
}

func (s *Spec) String() string {
	segments := []string{"RTP/AVP"}
	if s.Protocol == ProtocolTCP {
		segments[0] += "/TCP"
	}
	if s.Unicast {
		segments = append(segments, "unicast")
	}
	if len(s.Interleaved) > 0 {
		segments = append(segments, "interleaved="+joinRange(s.Interleaved))
	}
	if len(s.ClientPort) > 0 {
		segments = append(segments, "client_port="+joinRange(s.ClientPort))
	}
	if len(s.ServerPort) > 0 {
		segments = append(segments, "server_port="+joinRange(s.ServerPort))
	}
	if s.SSRC != 0 {
		segments = append(segments, fmt.Sprintf("ssrc=%08X", s.SSRC))
	}
	if s.Mode != "" {
		segments = append(segments, "mode="+s.Mode)
	}
	return strings.Join(segments, ";")
}

// Parse reads the first entry of a Transport header value. Servers only
// answer with the one they picked.
func Parse(value string) (*Spec, error) {
	value = strings.TrimSpace(strings.Split(value, ",")[0])
	parts := strings.Split(value, ";")

	s := &Spec{}
	switch parts[0] {
	case "RTP/AVP", "RTP/AVP/UDP":
		s.Protocol = ProtocolUDP
	case "RTP/AVP/TCP":
		s.Protocol = ProtocolTCP
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedTransport, parts[0])
	}

	for _, part := range parts[1:] {
		key, val := part, ""
		if i := strings.Index(part, "="); i >= 0 {
			key, val = part[:i], part[i+1:]
		}
		var err error
		switch key {
		case "unicast":
			s.Unicast = true
		case "multicast":
			s.Unicast = false
		case "interleaved":
			s.Interleaved, err = parseRange(key, val)
		case "client_port":
			s.ClientPort, err = parseRange(key, val)
		case "server_port":
			s.ServerPort, err = parseRange(key, val)
		case "ssrc":
			var v uint64
			v, err = strconv.ParseUint(val, 16, 32)
			if err != nil {
				err = fmt.Errorf("failed to parse ssrc value %s: %w", val, err)
			}
			s.SSRC = uint32(v)
		case "mode":
			s.Mode = strings.Trim(val, `"`)
		default:
			// destination, ttl, layers, source and friends are not needed
			// for interleaved playback
		}
		if err != nil {
			return nil, err
		}
	}
	return s, nil
}

func parseRange(key, val string) ([]int, error) {
	if val == "" {
		return nil, fmt.Errorf("malformed parameter %s, expected at least one value", key)
	}
	var out []int
	for _, p := range strings.Split(val, "-") {
		n, err := strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("failed to parse %s, received %s: %w", key, p, err)
		}
		out = append(out, n)
	}
	return out, nil
}

func joinRange(r []int) string {
	parts := make([]string, len(r))
	for i, n := range r {
		parts[i] = strconv.Itoa(n)
	}
	return strings.Join(parts, "-")
}
