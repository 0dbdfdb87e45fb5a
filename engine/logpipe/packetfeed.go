package logpipe

import (
	"context"
	"encoding/json"
	"time"

	"github.com/dongwonkwak/ironpost/engine/models"
)

// PacketFeedAdapter consumes packet events from the kernel feed and renders
// each as a JSON raw log so the regular parser path can process it. The
// packet's trace id is preserved end-to-end.
type PacketFeedAdapter struct {
	packets <-chan models.PacketEvent
}

func NewPacketFeedAdapter(packets <-chan models.PacketEvent) *PacketFeedAdapter {
	return &PacketFeedAdapter{packets: packets}
}

func (a *PacketFeedAdapter) Name() string { return "packet-feed" }

func (a *PacketFeedAdapter) Run(ctx context.Context, out chan<- RawLog) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-a.packets:
			if !ok {
				// upstream closed: clean termination
				return nil
			}
			data, err := json.Marshal(packetRecord{
				Source:    models.SourceNetFeed,
				EventType: string(models.EventKindPacket),
				TraceID:   ev.Metadata.TraceID,
				SrcIP:     ev.Packet.SrcIP.String(),
				DstIP:     ev.Packet.DstIP.String(),
				SrcPort:   ev.Packet.SrcPort,
				DstPort:   ev.Packet.DstPort,
				Protocol:  ev.Packet.Protocol,
				Size:      ev.Packet.Size,
				Message:   ev.Packet.String(),
			})
			if err != nil {
				continue
			}
			raw := RawLog{
				Data:       data,
				Source:     models.SourceNetFeed,
				ReceivedAt: time.Now(),
				FormatHint: "json",
				TraceID:    ev.Metadata.TraceID,
			}
			if !emit(ctx, out, raw) {
				return nil
			}
		}
	}
}

// packetRecord fixes the JSON keys of the rendered packet log.
type packetRecord struct {
	Source    string `json:"source"`
	EventType string `json:"event_type"`
	TraceID   string `json:"trace_id"`
	SrcIP     string `json:"src_ip"`
	DstIP     string `json:"dst_ip"`
	SrcPort   uint16 `json:"src_port"`
	DstPort   uint16 `json:"dst_port"`
	Protocol  uint8  `json:"protocol"`
	Size      int    `json:"size"`
	Message   string `json:"message"`
}
