//go:build linux

package netfeed

import (
	"errors"
	"fmt"
	"net"
	"net/netip"
	"sync"

	"github.com/cilium/ebpf"
	"github.com/cilium/ebpf/link"
	"github.com/cilium/ebpf/ringbuf"
	"github.com/cilium/ebpf/rlimit"

	"github.com/dongwonkwak/ironpost/engine/config"
	"github.com/dongwonkwak/ironpost/engine/models"
)

// objectPath is where the packaged XDP object is installed.
const objectPath = "/usr/lib/ironpost/ironpost_xdp.o"

// xdpProgram is the program section name inside the object.
const xdpProgram = "ironpost_xdp"

// Map names shared with the kernel program.
const (
	mapEvents    = "EVENTS"
	mapStats     = "STATS"
	mapBlocklist = "BLOCKLIST"
)

type linuxLoader struct {
	mu     sync.Mutex
	coll   *ebpf.Collection
	xdp    link.Link
	reader *ringbuf.Reader
	ch     chan []byte
	done   chan struct{}
}

func newLoader() loader {
	return &linuxLoader{
		ch:   make(chan []byte, 256),
		done: make(chan struct{}),
	}
}

func ebpfErr(reason string) error {
	return models.NewError(models.ErrKindPipeline, "netfeed", "eBPF load: "+reason)
}

func (l *linuxLoader) attach(cfg config.Netfeed) error {
	if err := rlimit.RemoveMemlock(); err != nil {
		return ebpfErr("memlock: " + err.Error())
	}
	coll, err := ebpf.LoadCollection(objectPath)
	if err != nil {
		return ebpfErr(err.Error())
	}
	prog, ok := coll.Programs[xdpProgram]
	if !ok {
		coll.Close()
		return ebpfErr(fmt.Sprintf("program %q not found in %s", xdpProgram, objectPath))
	}
	iface, err := net.InterfaceByName(cfg.Interface)
	if err != nil {
		coll.Close()
		return ebpfErr("interface " + cfg.Interface + ": " + err.Error())
	}
	var flags link.XDPAttachFlags
	switch cfg.XDPMode {
	case "native":
		flags = link.XDPDriverMode
	case "offload":
		flags = link.XDPOffloadMode
	default:
		flags = link.XDPGenericMode
	}
	xdp, err := link.AttachXDP(link.XDPOptions{
		Program:   prog,
		Interface: iface.Index,
		Flags:     flags,
	})
	if err != nil {
		coll.Close()
		return ebpfErr("attach: " + err.Error())
	}
	reader, err := ringbuf.NewReader(coll.Maps[mapEvents])
	if err != nil {
		xdp.Close()
		coll.Close()
		return ebpfErr("ring buffer: " + err.Error())
	}

	l.mu.Lock()
	l.coll = coll
	l.xdp = xdp
	l.reader = reader
	l.mu.Unlock()

	go l.pump()
	return nil
}

// pump drains the ring buffer into the sample channel until close.
func (l *linuxLoader) pump() {
	defer close(l.ch)
	for {
		record, err := l.reader.Read()
		if err != nil {
			if errors.Is(err, ringbuf.ErrClosed) {
				return
			}
			continue
		}
		sample := make([]byte, len(record.RawSample))
		copy(sample, record.RawSample)
		select {
		case l.ch <- sample:
		case <-l.done:
			return
		}
	}
}

func (l *linuxLoader) events() <-chan []byte { return l.ch }

func (l *linuxLoader) readStats() (RawTrafficSnapshot, error) {
	l.mu.Lock()
	coll := l.coll
	l.mu.Unlock()
	if coll == nil {
		return RawTrafficSnapshot{}, ebpfErr("not attached")
	}
	statsMap, ok := coll.Maps[mapStats]
	if !ok {
		return RawTrafficSnapshot{}, ebpfErr("stats map missing")
	}

	read := func(idx int) (CounterValue, error) {
		var perCPU []CounterValue
		if err := statsMap.Lookup(uint32(idx), &perCPU); err != nil {
			return CounterValue{}, err
		}
		return SumPerCPU(perCPU), nil
	}

	var snap RawTrafficSnapshot
	var err error
	if snap.TCP, err = read(StatsIdxTCP); err != nil {
		return snap, ebpfErr("stats lookup: " + err.Error())
	}
	if snap.UDP, err = read(StatsIdxUDP); err != nil {
		return snap, ebpfErr("stats lookup: " + err.Error())
	}
	if snap.ICMP, err = read(StatsIdxICMP); err != nil {
		return snap, ebpfErr("stats lookup: " + err.Error())
	}
	if snap.Other, err = read(StatsIdxOther); err != nil {
		return snap, ebpfErr("stats lookup: " + err.Error())
	}
	if snap.Total, err = read(StatsIdxTotal); err != nil {
		return snap, ebpfErr("stats lookup: " + err.Error())
	}
	return snap, nil
}

func (l *linuxLoader) updateBlocklist(addrs []netip.Addr) error {
	l.mu.Lock()
	coll := l.coll
	l.mu.Unlock()
	if coll == nil {
		return ebpfErr("not attached")
	}
	blocklist, ok := coll.Maps[mapBlocklist]
	if !ok {
		return ebpfErr("blocklist map missing")
	}

	// clear existing entries, then insert the new set
	var key uint32
	var value uint32
	iter := blocklist.Iterate()
	var stale []uint32
	for iter.Next(&key, &value) {
		stale = append(stale, key)
	}
	for _, k := range stale {
		_ = blocklist.Delete(k)
	}
	for _, addr := range addrs {
		if !addr.Is4() {
			continue
		}
		b := addr.As4()
		k := uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
		if err := blocklist.Put(k, uint32(1)); err != nil {
			return ebpfErr("blocklist put: " + err.Error())
		}
	}
	return nil
}

func (l *linuxLoader) close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	select {
	case <-l.done:
	default:
		close(l.done)
	}
	if l.reader != nil {
		_ = l.reader.Close()
	}
	if l.xdp != nil {
		_ = l.xdp.Close()
	}
	if l.coll != nil {
		l.coll.Close()
	}
	return nil
}
