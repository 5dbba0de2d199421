// Copyright 2025-2026 CERN. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

// Package capture reads frames from a live interface or a capture file and
// normalizes them to IPv4 TCP segments with payload. It is the only package
// that touches libpcap.
package capture

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcap"
)

// ErrTimeout is returned by Next when no packet arrived within the handle's
// read timeout. Callers retry after a short sleep so cancellation stays
// responsive.
var ErrTimeout = errors.New("capture timed out")

const (
	snaplen     = 65536
	readTimeout = 1000 * time.Millisecond
)

// Packet is the normalized view of a captured frame: an IPv4 TCP segment
// with a non-empty payload.
type Packet struct {
	TS      int64 // capture timestamp, milliseconds since epoch
	SrcIP   string
	DstIP   string
	SrcPort uint16
	DstPort uint16
	Payload []byte
	Length  int
}

// Stats are libpcap's receive counters. Offline handles report zeros.
type Stats struct {
	Received int
	Dropped  int
}

// Handle wraps a pcap handle for live or offline capture.
type Handle struct {
	pcap *pcap.Handle
	live bool
}

// BPFFilter builds the port filter expression for a set of server ports.
func BPFFilter(ports []int) string {
	terms := make([]string, len(ports))
	for i, p := range ports {
		terms[i] = fmt.Sprintf("port %d", p)
	}
	return strings.Join(terms, " or ")
}

// OpenLive opens a live capture on iface, filtered to the given server ports.
func OpenLive(iface string, ports []int) (*Handle, error) {
	h, err := pcap.OpenLive(iface, snaplen, false, readTimeout)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", iface, err)
	}
	if err := h.SetBPFFilter(BPFFilter(ports)); err != nil {
		h.Close()
		return nil, fmt.Errorf("bpf filter: %w", err)
	}
	return &Handle{pcap: h, live: true}, nil
}

// OpenOffline opens a capture file.
func OpenOffline(path string) (*Handle, error) {
	h, err := pcap.OpenOffline(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	return &Handle{pcap: h}, nil
}

// Next reads the next frame. It returns ErrTimeout when the read timed out,
// io.EOF at the end of a capture file, and (nil, nil) for frames that are not
// IPv4 TCP segments with payload.
func (h *Handle) Next() (*Packet, error) {
	data, ci, err := h.pcap.ReadPacketData()
	switch {
	case err == nil:
	case errors.Is(err, pcap.NextErrorTimeoutExpired):
		return nil, ErrTimeout
	case errors.Is(err, io.EOF):
		return nil, io.EOF
	default:
		return nil, err
	}
	return normalize(data, ci, h.pcap.LinkType()), nil
}

// normalize decodes a raw frame down to its TCP payload, or nil when the
// frame is not an IPv4 TCP segment carrying data.
func normalize(data []byte, ci gopacket.CaptureInfo, link layers.LinkType) *Packet {
	pkt := gopacket.NewPacket(data, link, gopacket.DecodeOptions{Lazy: true, NoCopy: true})

	ip4Layer := pkt.Layer(layers.LayerTypeIPv4)
	tcpLayer := pkt.Layer(layers.LayerTypeTCP)
	if ip4Layer == nil || tcpLayer == nil {
		return nil
	}
	ip4 := ip4Layer.(*layers.IPv4)
	tcp := tcpLayer.(*layers.TCP)
	if len(tcp.Payload) == 0 {
		return nil
	}

	return &Packet{
		TS:      ci.Timestamp.UnixMilli(),
		SrcIP:   ip4.SrcIP.String(),
		DstIP:   ip4.DstIP.String(),
		SrcPort: uint16(tcp.SrcPort),
		DstPort: uint16(tcp.DstPort),
		Payload: tcp.Payload,
		Length:  ci.Length,
	}
}

// Stats returns libpcap receive counters for live handles.
func (h *Handle) Stats() Stats {
	if !h.live {
		return Stats{}
	}
	s, err := h.pcap.Stats()
	if err != nil {
		return Stats{}
	}
	return Stats{Received: s.PacketsReceived, Dropped: s.PacketsDropped}
}

// Close releases the underlying pcap handle.
func (h *Handle) Close() {
	h.pcap.Close()
}

// Interface describes a capturable network device.
type Interface struct {
	Name        string
	Description string
	Addresses   []string
}

// Interfaces lists the devices available for live capture.
func Interfaces() ([]Interface, error) {
	devs, err := pcap.FindAllDevs()
	if err != nil {
		return nil, fmt.Errorf("list devices: %w", err)
	}
	out := make([]Interface, 0, len(devs))
	for _, d := range devs {
		ifc := Interface{Name: d.Name, Description: d.Description}
		for _, a := range d.Addresses {
			ifc.Addresses = append(ifc.Addresses, a.IP.String())
		}
		out = append(out, ifc)
	}
	return out, nil
}
