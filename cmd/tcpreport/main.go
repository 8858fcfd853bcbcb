/*
 *    tcpreport - demo CLI driving the TCP dissection and stream-analysis
 *    engine over an offline pcap file.
 *
 *    Adapted from HoneyBadger's honeybadgerReportToolColor (David
 *    Stainton, 2015), itself licensed GPLv3.
 */
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcap"

	"github.com/dstainton-tcpflow/tcpflow/engine"
	"github.com/dstainton-tcpflow/tcpflow/types"
)

func colorForAnalysis(rec *types.AnalysisRecord) *color.Color {
	if rec == nil {
		return color.New(color.FgBlue)
	}
	switch {
	case rec.Flags.Has(types.Retransmission), rec.Flags.Has(types.FastRetransmission),
		rec.Flags.Has(types.SpuriousRetransmission), rec.Flags.Has(types.LostPacket),
		rec.Flags.Has(types.AckLostPacket):
		return color.New(color.FgRed)
	case rec.Flags.Has(types.OutOfOrder), rec.Flags.Has(types.DuplicateAck),
		rec.Flags.Has(types.ZeroWindow), rec.Flags.Has(types.ZeroWindowProbe):
		return color.New(color.FgYellow)
	case rec.Flags != 0:
		return color.New(color.FgCyan)
	default:
		return color.New(color.FgGreen)
	}
}

// buildSegment decodes one gopacket.Packet's network+transport layers into a
// types.Segment (spec §1 Non-goals: "no link-layer or IP dissection" refers
// to the engine itself; the demo CLI is the collaborator spec.md calls the
// capture source, responsible for handing the engine pre-parsed segments).
func buildSegment(packet gopacket.Packet, frame uint64) (*types.Segment, bool) {
	tcpLayer := packet.Layer(layers.LayerTypeTCP)
	if tcpLayer == nil {
		return nil, false
	}
	tcp, _ := tcpLayer.(*layers.TCP)

	var srcIP, dstIP []byte
	if ip4 := packet.Layer(layers.LayerTypeIPv4); ip4 != nil {
		l := ip4.(*layers.IPv4)
		srcIP, dstIP = []byte(l.SrcIP), []byte(l.DstIP)
	} else if ip6 := packet.Layer(layers.LayerTypeIPv6); ip6 != nil {
		l := ip6.(*layers.IPv6)
		srcIP, dstIP = []byte(l.SrcIP), []byte(l.DstIP)
	} else {
		return nil, false
	}

	flags := types.Flags(0)
	setFlag := func(set bool, f types.Flags) {
		if set {
			flags |= f
		}
	}
	setFlag(tcp.FIN, types.FlagFIN)
	setFlag(tcp.SYN, types.FlagSYN)
	setFlag(tcp.RST, types.FlagRST)
	setFlag(tcp.PSH, types.FlagPSH)
	setFlag(tcp.ACK, types.FlagACK)
	setFlag(tcp.URG, types.FlagURG)
	setFlag(tcp.ECE, types.FlagECE)
	setFlag(tcp.CWR, types.FlagCWR)
	setFlag(tcp.NS, types.FlagNS)

	raw := append([]byte{}, tcpLayer.LayerContents()...)
	raw = append(raw, tcp.LayerPayload()...)
	if len(raw) >= 18 {
		raw[16], raw[17] = 0, 0 // zero the checksum field before verification
	}

	seg := &types.Segment{
		SrcIP: srcIP, DstIP: dstIP,
		SrcPort: uint16(tcp.SrcPort), DstPort: uint16(tcp.DstPort),
		Seq: tcp.Seq, Ack: tcp.Ack,
		DataOffset: tcp.DataOffset, Flags: flags,
		Window: tcp.Window, Checksum: tcp.Checksum, UrgentPointer: tcp.Urgent,
		Options:   optionBytes(tcp),
		Payload:   tcp.LayerPayload(),
		Raw:       raw,
		Timestamp: packet.Metadata().Timestamp,
		Frame:     frame,
	}
	return seg, true
}

// optionBytes re-serializes gopacket's already-parsed TCP options back into
// the raw kind/len/payload byte range this module's own option parser
// expects, so the two option decoders (gopacket's and this module's) never
// have to agree on a shared in-memory representation.
func optionBytes(tcp *layers.TCP) []byte {
	var buf []byte
	for _, opt := range tcp.Options {
		switch opt.OptionType {
		case layers.TCPOptionKindEndList, layers.TCPOptionKindNop:
			buf = append(buf, byte(opt.OptionType))
		default:
			buf = append(buf, byte(opt.OptionType), opt.OptionLength)
			buf = append(buf, opt.OptionData...)
		}
	}
	return buf
}

func main() {
	pcapFile := flag.String("r", "", "pcap file to read")
	flag.Parse()
	if *pcapFile == "" {
		fmt.Fprintln(os.Stderr, "usage: tcpreport -r <file.pcap>")
		os.Exit(1)
	}

	handle, err := pcap.OpenOffline(*pcapFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open %s: %v\n", *pcapFile, err)
		os.Exit(1)
	}
	defer handle.Close()

	eng := engine.New(engine.DefaultConfig(), nil)
	src := gopacket.NewPacketSource(handle, handle.LinkType())

	var frame uint64
	for packet := range src.Packets() {
		frame++
		seg, ok := buildSegment(packet, frame)
		if !ok {
			continue
		}
		out := eng.ProcessSegment(seg, nil)
		info := engine.InfoColumn(out.Header, out.Analysis, out.Notes)
		colorForAnalysis(out.Analysis).Printf("#%d %s\n", frame, info)
		if out.Mptcp != nil && out.Mptcp.HasDSN {
			color.New(color.FgMagenta).Printf("    MPTCP DSN=%d\n", out.Mptcp.DSN)
		}
		if out.Reassembled != nil {
			color.New(color.FgWhite).Printf("    reassembled PDU: %d bytes\n", len(out.Reassembled.Data))
		}
	}
}
